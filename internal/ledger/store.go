package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"investigator/internal/casefile"
	"investigator/internal/lock"
)

// Store persists the ledger document and provides the exclusive lock that
// guards read-modify-write cycles. Implementations: FileStore (shared
// leads.json with a sentinel lock) and MemStore (in-process).
type Store interface {
	// Lock blocks until exclusive access is granted. The returned function
	// releases it.
	Lock(ctx context.Context) (unlock func() error, err error)
	// Load returns the current document. Returns a CodeNotInitialized error
	// when no ledger exists yet.
	Load() (*Document, error)
	// Save replaces the persisted document.
	Save(doc *Document) error
}

// FileStore keeps the ledger in a JSON file next to a sentinel lock file.
type FileStore struct {
	path   string
	locker lock.FileLock
	holder string
}

// NewFileStore returns a store over path guarded by locker.
func NewFileStore(path string, locker lock.FileLock) *FileStore {
	return &FileStore{path: path, locker: locker, holder: fmt.Sprintf("pid-%d", os.Getpid())}
}

// OpenCase returns the FileStore for <caseDir>/leads.json with the default
// lock timings.
func OpenCase(caseDir string) *FileStore {
	path := filepath.Join(caseDir, casefile.LeadsFile)
	return NewFileStore(path, lock.New(path+".lock"))
}

// Path returns the ledger file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Lock(ctx context.Context) (func() error, error) {
	return s.locker.Acquire(ctx, s.holder)
}

func (s *FileStore) Load() (*Document, error) {
	doc, err := casefile.ReadJSON[Document](s.path)
	if err != nil {
		if errors.Is(err, casefile.ErrSchemaMismatch) {
			return nil, &Error{Code: CodeSchemaMismatch, Msg: "ledger file is malformed", Cause: err}
		}
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if doc == nil {
		return nil, newError(CodeNotInitialized, "no ledger at %s", s.path)
	}
	return doc, nil
}

func (s *FileStore) Save(doc *Document) error {
	if doc.Leads == nil {
		doc.Leads = []Lead{}
	}
	return casefile.WriteJSON(s.path, doc)
}

// MemStore is an in-memory Store. Lock waits on a channel semaphore so
// contending goroutines sleep instead of polling.
type MemStore struct {
	sem     chan struct{}
	Timeout time.Duration

	mu  sync.Mutex
	doc *Document
}

// NewMemStore returns a MemStore holding a copy of doc (nil = uninitialized).
func NewMemStore(doc *Document) *MemStore {
	s := &MemStore{sem: make(chan struct{}, 1), Timeout: lock.DefaultTimeout}
	if doc != nil {
		s.doc = doc.clone()
	}
	return s
}

func (s *MemStore) Lock(ctx context.Context) (func() error, error) {
	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: in-memory ledger busy for %s", lock.ErrTimeout, s.Timeout)
	}
	var once sync.Once
	return func() error {
		once.Do(func() { <-s.sem })
		return nil
	}, nil
}

func (s *MemStore) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, newError(CodeNotInitialized, "no ledger in memory")
	}
	return s.doc.clone(), nil
}

func (s *MemStore) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.clone()
	if s.doc.Leads == nil {
		s.doc.Leads = []Lead{}
	}
	return nil
}
