// Package staging manages the local landing area for fetched snapshots.
//
// Writes are atomic from the reader's point of view: bytes stream into a
// .partial sibling and the final name appears only through a rename. A file
// sitting at a final path is therefore complete by construction, which is
// what lets the skip probe trust bare existence.
package staging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/mfreitas/tlc_ingest/internal/corpus"
)

const (
	dirPerm       = 0755
	filePerm      = 0644
	partialSuffix = ".partial"
)

// Area is a snapshot staging directory on some filesystem.
type Area struct {
	fs   afero.Fs
	root string
}

// New returns an Area backed by the operating system filesystem.
func New(root string) *Area {
	return NewWithFs(afero.NewOsFs(), root)
}

// NewWithFs returns an Area on the given filesystem. Tests hand in an
// in-memory one.
func NewWithFs(fsys afero.Fs, root string) *Area {
	return &Area{fs: fsys, root: root}
}

func (a *Area) Root() string { return a.root }

// Ensure creates the staging root if it does not exist. Safe under
// concurrent callers; MkdirAll treats an existing directory as success.
func (a *Area) Ensure() error {
	if err := a.fs.MkdirAll(a.root, dirPerm); err != nil {
		return fmt.Errorf("failed to create staging root %s: %w", a.root, err)
	}

	return nil
}

// PathFor returns the final path a snapshot lands at.
func (a *Area) PathFor(d corpus.Descriptor) string {
	return filepath.Join(a.root, d.FileName())
}

func (a *Area) partialPathFor(d corpus.Descriptor) string {
	return a.PathFor(d) + partialSuffix
}

// Contains reports whether the snapshot is already staged. Only the final
// path counts; a .partial left behind by an interrupted run is not a
// snapshot.
func (a *Area) Contains(d corpus.Descriptor) (bool, error) {
	_, err := a.fs.Stat(a.PathFor(d))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("failed to probe %s: %w", a.PathFor(d), err)
}

// Start opens the snapshot's partial file for writing, truncating any stale
// partial a previous attempt left behind.
func (a *Area) Start(d corpus.Descriptor) (*PendingFile, error) {
	partial := a.partialPathFor(d)

	f, err := a.fs.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open partial for %s: %w", d, err)
	}

	return &PendingFile{
		fs:          a.fs,
		file:        f,
		partialPath: partial,
		finalPath:   a.PathFor(d),
	}, nil
}

// PendingFile is a snapshot being written. It lives at a .partial path until
// Commit renames it into place; Discard removes it instead.
type PendingFile struct {
	fs          afero.Fs
	file        afero.File
	partialPath string
	finalPath   string
	closed      bool
}

func (p *PendingFile) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

// Commit flushes and closes the partial, then publishes it at the final
// path. The rename is the only step that makes a snapshot visible.
func (p *PendingFile) Commit() error {
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync partial %s: %w", p.partialPath, err)
	}
	if err := p.close(); err != nil {
		return err
	}
	if err := p.fs.Rename(p.partialPath, p.finalPath); err != nil {
		return fmt.Errorf("failed to publish %s: %w", p.finalPath, err)
	}

	return nil
}

// Discard closes and removes the partial. After a successful Commit it is a
// no-op, so callers can defer it unconditionally.
func (p *PendingFile) Discard() error {
	closeErr := p.close()

	if err := p.fs.Remove(p.partialPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial %s: %w", p.partialPath, err)
	}

	return closeErr
}

func (p *PendingFile) close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.file.Close(); err != nil {
		return fmt.Errorf("failed to close partial %s: %w", p.partialPath, err)
	}

	return nil
}
