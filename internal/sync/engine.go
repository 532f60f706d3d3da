// Package sync pushes dirty replica rows to the StampCircle backend and
// pulls the backend's view of open scopes back down. The Engine half
// owns the outbound direction; the Reconciler half owns inbound.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stampcircle/stampd/internal/bus"
	"github.com/stampcircle/stampd/internal/ident"
	"github.com/stampcircle/stampd/internal/moderate"
	"github.com/stampcircle/stampd/internal/remote"
	"github.com/stampcircle/stampd/internal/status"
	"github.com/stampcircle/stampd/internal/store"
)

// Engine drains pending local changes kind by kind. Each kind gets at
// most one pass in flight; each row inside a pass fails independently.
type Engine struct {
	db         *store.DB
	remote     remote.Caller
	classifier moderate.Classifier
	bus        *bus.Bus
	machine    *status.Machine
	logger     *zap.Logger
	guard      *guard
	interval   time.Duration
	cancel     context.CancelFunc
}

func NewEngine(db *store.DB, caller remote.Caller, classifier moderate.Classifier, b *bus.Bus, machine *status.Machine, interval time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		db:         db,
		remote:     caller,
		classifier: classifier,
		bus:        b,
		machine:    machine,
		logger:     logger,
		guard:      newGuard(),
		interval:   interval,
	}
}

// Start begins the interval push loop and subscribes to reconnect
// events so a restored connection triggers an immediate full pass.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("realtime.connected", 16)

	go func() {
		defer unsub()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.SyncAll(ctx)
			case <-ch:
				e.SyncAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// SyncAll starts a pass for every kind. Kinds run concurrently; rows
// within a kind run in order so parents reach the server before
// children.
func (e *Engine) SyncAll(ctx context.Context) {
	for _, kind := range Kinds() {
		go func(k Kind) {
			if err := e.Sync(ctx, k); err != nil {
				e.logger.Error("sync pass failed", zap.String("kind", string(k)), zap.Error(err))
			}
		}(kind)
	}
}

// Sync runs one push pass for kind. A pass already in flight for the
// same kind makes this a no-op, as does being offline.
func (e *Engine) Sync(ctx context.Context, kind Kind) error {
	spec, ok := kindSpecs[kind]
	if !ok {
		return fmt.Errorf("unknown sync kind %q", kind)
	}
	if !e.machine.Connected() {
		return nil
	}
	if !e.guard.tryAcquire(kind) {
		return nil
	}
	defer e.guard.release(kind)

	pending, err := spec.Pending(e.db)
	if err != nil {
		return fmt.Errorf("scan pending %s: %w", kind, err)
	}
	if len(pending) == 0 {
		return nil
	}

	pushed := 0
	for _, it := range pending {
		if it.BlockedBy != 0 {
			// Dependency has not synced yet; its own pass will remap
			// this row's reference and a later pass picks it up.
			continue
		}
		if err := e.pushOne(ctx, kind, spec, it); err != nil {
			if remote.IsPermanent(err) {
				e.logger.Warn("permanent rejection, moving to dead letter",
					zap.String("kind", string(kind)), zap.Int64("id", it.ID), zap.Error(err))
				if derr := spec.MarkDead(e.db, it.ID); derr != nil {
					e.logger.Error("failed to mark dead", zap.Int64("id", it.ID), zap.Error(derr))
				}
				e.bus.Publish("sync.dead_letter", map[string]any{"kind": string(kind), "id": it.ID, "error": err.Error()})
				continue
			}
			e.logger.Error("push failed, will retry",
				zap.String("kind", string(kind)), zap.Int64("id", it.ID), zap.Error(err))
			continue
		}
		pushed++
	}

	if pushed > 0 {
		e.logger.Info("sync pass complete", zap.String("kind", string(kind)), zap.Int("pushed", pushed))
		e.bus.Publish("sync.pushed", map[string]any{"kind": string(kind), "count": pushed})
	}
	return nil
}

func (e *Engine) pushOne(ctx context.Context, kind Kind, spec kindSpec, it item) error {
	switch {
	case it.IsDeleted:
		// Created and deleted without ever syncing: nothing to tell
		// the server.
		if ident.ID(it.ID).Temporary() {
			return spec.DeleteLocal(e.db, it.ID)
		}
		err := e.remote.Delete(ctx, spec.Endpoint, it.ID)
		if err != nil && !remote.IsPermanent(err) {
			return err
		}
		// Gone remotely (or never existed there); drop the tombstone.
		return spec.DeleteLocal(e.db, it.ID)

	case ident.ID(it.ID).Temporary():
		payload, err := e.moderated(ctx, kind, spec, it)
		if err != nil {
			return err
		}
		raw, err := e.remote.Create(ctx, spec.Endpoint, payload)
		if err != nil {
			return err
		}
		if err := spec.ApplyCreate(e.db, it.ID, raw); err != nil {
			return fmt.Errorf("apply canonical record: %w", err)
		}
		e.bus.Publish("sync.remapped", map[string]any{"kind": string(kind), "old_id": it.ID})
		return nil

	default:
		payload, err := e.moderated(ctx, kind, spec, it)
		if err != nil {
			return err
		}
		raw, err := e.remote.Update(ctx, spec.Endpoint, it.ID, payload)
		if err != nil {
			return err
		}
		return spec.ApplyUpdate(e.db, raw)
	}
}

// moderated runs the classifier for moderated kinds and folds the
// verdict into the payload. A classifier failure fails the push; the
// row stays dirty and retries later rather than going out unmoderated.
func (e *Engine) moderated(ctx context.Context, kind Kind, spec kindSpec, it item) (any, error) {
	if !spec.Moderated {
		return it.Payload, nil
	}
	verdict, err := e.classifier.Classify(ctx, it.Content, string(kind))
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	payload, ok := it.Payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("moderated kind %s has non-map payload", kind)
	}
	payload["moderation"] = map[string]any{
		"flagged":   verdict.Flagged,
		"details":   verdict.Details,
		"embedding": verdict.Embedding,
	}
	return payload, nil
}
