package backup

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/errors"
)

// ErrArtifactExists is the cause of a Begin that would overwrite an artifact
var ErrArtifactExists = stderrors.New("artifact already exists")

// Store is the on-disk artifact directory. Artifacts are written under a
// .partial name and only renamed into place once verified, so a reader or a
// retention sweep never sees an incomplete artifact.
type Store struct {
	root string
}

// NewStore creates root if needed
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.NewValidationError("backup root is required", nil)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("failed to create backup root %s", root), err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory
func (s *Store) Root() string {
	return s.root
}

// Pending is an artifact being written
type Pending struct {
	File    *os.File
	final   string
	partial string
	closed  bool
}

// Begin creates the in-flight file for a new artifact
func (s *Store) Begin(strategy Strategy, scope Scope, kind compression.Kind, at time.Time) (*Pending, error) {
	final := filepath.Join(s.root, ArtifactName(strategy, scope, kind, at))
	if _, err := os.Stat(final); err == nil {
		return nil, errors.NewStorageError(fmt.Sprintf("artifact %s already exists", final), ErrArtifactExists)
	}

	partial := final + PartialSuffix
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if os.IsExist(err) {
		return nil, errors.NewStorageError(fmt.Sprintf("artifact %s is already being written", final), ErrArtifactExists)
	}
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("failed to create %s", partial), err)
	}
	return &Pending{File: f, final: final, partial: partial}, nil
}

// Path returns the in-flight path
func (p *Pending) Path() string {
	return p.partial
}

// FinalPath returns the path the artifact will have once committed
func (p *Pending) FinalPath() string {
	return p.final
}

// Finish flushes and closes the in-flight file
func (p *Pending) Finish() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.File.Sync(); err != nil {
		p.File.Close()
		return errors.NewStorageError("failed to sync artifact", err)
	}
	if err := p.File.Close(); err != nil {
		return errors.NewStorageError("failed to close artifact", err)
	}
	return nil
}

// Commit renames the verified file into place and writes its sidecar. An
// artifact whose sidecar cannot be written is removed again.
func (p *Pending) Commit(a *Artifact) error {
	if err := p.Finish(); err != nil {
		return err
	}
	if err := os.Rename(p.partial, p.final); err != nil {
		return errors.NewStorageError("failed to commit artifact", err)
	}
	a.StoragePath = p.final
	if err := writeMeta(a); err != nil {
		os.Remove(p.final)
		a.StoragePath = ""
		return err
	}
	return nil
}

// Abort discards the in-flight file
func (p *Pending) Abort() {
	if !p.closed {
		p.closed = true
		p.File.Close()
	}
	os.Remove(p.partial)
}

// List returns every committed artifact with a metadata sidecar, oldest first
func (s *Store) List() ([]*Artifact, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("failed to read %s", s.root), err)
	}

	var artifacts []*Artifact
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, MetaSuffix) {
			continue
		}
		path := filepath.Join(s.root, strings.TrimSuffix(name, MetaSuffix))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		a, err := ReadMeta(path)
		if err != nil {
			return nil, err
		}
		a.StoragePath = path
		artifacts = append(artifacts, a)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}
