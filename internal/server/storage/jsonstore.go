// Package storage implements the single-file JSON document store. The whole
// document is the unit of persistence: every mutation loads the current file,
// transforms an in-memory copy and atomically replaces the file via a
// temp-file-and-rename sequence. The live file is never written in place, so
// an interrupted write leaves the previous document intact.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

// Store persists one models.Document.
//
// Concurrency: mutations are serialized by mu — only one read-modify-write
// cycle is ever in flight. Readers do not take mu: os.Rename is atomic, so a
// concurrent Read observes either the previous or the new document, never a
// partially written one.
type Store struct {
	path string
	mu   sync.Mutex

	// rename is a test seam for simulating a crash between the temp-file
	// write and the atomic replace.
	rename func(oldpath, newpath string) error
}

func New(path string) *Store {
	return &Store{path: path, rename: os.Rename}
}

// Path returns the location of the backing file.
func (s *Store) Path() string { return s.path }

// EnsureInitialized creates the parent directory and an empty document if the
// backing file is missing or empty, and rewrites the file once if existing
// content needs normalizing (nil collections from hand-edited files).
func (s *Store) EnsureInitialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(s.path), err)
	}

	doc, err := s.load()
	if err != nil {
		return err
	}
	if doc == nil {
		return s.replace(models.NewDocument())
	}
	if doc.Normalize() {
		return s.replace(doc)
	}
	return nil
}

// Read returns a snapshot of the persisted document. The snapshot is private
// to the caller; mutating it has no effect on the store. A missing file reads
// as an empty document.
func (s *Store) Read() (*models.Document, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return models.NewDocument(), nil
	}
	doc.Normalize()
	return doc, nil
}

// Mutate applies fn to a copy of the current document and atomically persists
// the result. If fn returns an error, nothing is written and the store is
// byte-for-byte unchanged. fn runs under the store's exclusive section and
// must not call back into the store.
func (s *Store) Mutate(fn func(doc *models.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if doc == nil {
		doc = models.NewDocument()
	}
	doc.Normalize()

	if err := fn(doc); err != nil {
		return err
	}
	return s.replace(doc)
}

// load reads and unmarshals the backing file. It returns (nil, nil) when the
// file is missing or empty.
func (s *Store) load() (*models.Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid document in %s: %w", s.path, err)
	}
	return &doc, nil
}

// replace durably writes doc next to the live file and renames it over the
// original. The temp file is fsynced before the rename so a crash can never
// promote a half-written file.
func (s *Store) replace(doc *models.Document) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	payload = append(payload, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		// Best effort: a successful rename already removed it.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := s.rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
