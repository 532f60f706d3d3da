// Package thread computes depth and ancestry paths for nested comments
// and threaded messages. A path is the ordered id sequence from the root
// to the record itself, persisted as a slash-joined string ("5/99") so
// descendant queries are prefix matches instead of recursive lookups.
//
// Paths built here are optimistic: a reply created under an unsynced
// parent inherits temporary ids in its path. The server recomputes the
// canonical path on sync and that value supersedes the local one, so
// path-based queries are only stable once the row is synced.
package thread

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stampcircle/stampd/internal/ident"
)

// Sep separates ids inside a stored path.
const Sep = "/"

// Root returns the depth and path for a top-level record.
func Root(id ident.ID) (int, string) {
	return 0, strconv.FormatInt(id.Int64(), 10)
}

// Child returns the depth and path for a reply under the given parent.
func Child(parentDepth int, parentPath string, id ident.ID) (int, string) {
	return parentDepth + 1, parentPath + Sep + strconv.FormatInt(id.Int64(), 10)
}

// Decode splits a stored path back into its id sequence.
func Decode(path string) ([]int64, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, Sep)
	ids := make([]int64, len(parts))
	for i, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("path element %q: %w", p, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// Encode joins an id sequence into a stored path.
func Encode(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, Sep)
}

// Validate checks the structural invariant: the path has depth+1
// elements and ends in the record's own id.
func Validate(depth int, path string, id ident.ID) error {
	ids, err := Decode(path)
	if err != nil {
		return err
	}
	if len(ids) != depth+1 {
		return fmt.Errorf("path %q has %d elements, depth %d requires %d", path, len(ids), depth, depth+1)
	}
	if ids[len(ids)-1] != id.Int64() {
		return fmt.Errorf("path %q does not end in id %d", path, id)
	}
	return nil
}
