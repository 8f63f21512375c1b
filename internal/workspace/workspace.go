// Package workspace is the read-only projection of a workspace directory
// (spec §4.2). It never mutates the underlying files; it exposes listing,
// byte reads and the per-path status computation used by the UI to show
// whether a workspace file is already on the active request.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/opensafely-core/airlock/internal/domain"
)

// Entry is one child of a listed directory.
type Entry struct {
	RelPath     string
	IsDir       bool
	Size        int64
	ModTime     time.Time
	ContentHash string // empty for directories
}

// View reads bytes and metadata from a single workspace's root directory
// on disk. The workspace name is resolved to a root by the caller
// (typically from config.WorkspaceRoot + name) so this type carries no
// knowledge of how workspaces are named or provisioned.
type View struct {
	Name string
	Root string
}

// New returns a View rooted at root for the named workspace.
func New(name, root string) *View {
	return &View{Name: name, Root: root}
}

// List returns the ordered children of `path` (relative to the workspace
// root), with metadata. It does not hash directories.
func (v *View) List(ctx context.Context, path string) ([]Entry, error) {
	abs, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, de := range entries {
		info, err := de.Info()
		if err != nil {
			return nil, err
		}
		rel := filepath.Join(path, de.Name())
		e := Entry{
			RelPath: rel,
			IsDir:   de.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if !e.IsDir {
			hash, err := v.hashFile(filepath.Join(abs, de.Name()))
			if err != nil {
				return nil, err
			}
			e.ContentHash = hash
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

// Read returns the bytes at relpath.
func (v *View) Read(ctx context.Context, relpath string) ([]byte, error) {
	abs, err := v.resolve(relpath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Stat returns metadata for a single path without reading its full
// contents twice — callers that only need (size, mtime, hash) should use
// this instead of List on the parent directory.
func (v *View) Stat(ctx context.Context, relpath string) (Entry, error) {
	abs, err := v.resolve(relpath)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Entry{}, err
	}
	hash, err := v.hashFile(abs)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		RelPath:     relpath,
		IsDir:       info.IsDir(),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: hash,
	}, nil
}

func (v *View) resolve(relpath string) (string, error) {
	abs := filepath.Join(v.Root, filepath.Clean("/"+relpath))
	return abs, nil
}

func (v *View) hashFile(abs string) (string, error) {
	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DirLookup resolves a workspace name to a View rooted at Root/name — the
// controller.WorkspaceLookup implementation used outside of tests, where
// every workspace is a subdirectory of a single configured root.
type DirLookup struct {
	Root string
}

// Get implements controller.WorkspaceLookup.
func (d DirLookup) Get(name string) (*View, error) {
	root := filepath.Join(d.Root, filepath.Clean("/"+name))
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace %q not found under %s", name, d.Root)
	}
	return New(name, root), nil
}

// RelativeStatus computes a path's status relative to a request, per spec
// §4.2:
//   - RELEASED: same path exists on a previous request in RELEASED status
//   - UPDATED: on R with a different content_hash than the workspace
//   - UNDER_REVIEW: on R with matching content_hash
//   - none: not on R
//
// snapshot is the file's row on the current request, or nil if absent.
// releasedElsewhere reports whether the path was released by some other,
// earlier request.
func RelativeStatus(currentHash string, snapshot *domain.File, releasedElsewhere bool) domain.WorkspaceFileStatus {
	if releasedElsewhere {
		return domain.WorkspaceFileReleased
	}
	if snapshot == nil {
		return domain.WorkspaceFileNone
	}
	if snapshot.ContentHash != currentHash {
		return domain.WorkspaceFileUpdated
	}
	return domain.WorkspaceFileUnderReview
}
