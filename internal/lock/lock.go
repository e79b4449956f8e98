// Package lock provides the two exclusion primitives the node layer needs: a
// PID-stamped flock for single-instance daemons and a keyed active-set that
// caps each conversation to one concurrent run.
package lock

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// Token identifies one successful ActiveSet claim.
type Token uint64

// ActiveSet tracks live keys. TryAcquire refuses a key that is already held;
// callers reject the duplicate rather than queue it. Claims are token-owned:
// Release frees a key only for the token that acquired it, so a holder whose
// claim was evicted cannot free a successor's claim.
type ActiveSet struct {
	mu     sync.Mutex
	active map[string]Token
	last   Token
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{active: make(map[string]Token)}
}

// TryAcquire claims key. The returned token must be passed back to Release;
// ok is false when the key is already held.
func (s *ActiveSet) TryAcquire(key string) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.active[key]; held {
		return 0, false
	}
	s.last++
	s.active[key] = s.last
	return s.last, true
}

// Release frees key when tok still owns it. A stale token or an unheld key
// is a no-op.
func (s *ActiveSet) Release(key string, tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, held := s.active[key]; held && cur == tok {
		delete(s.active, key)
	}
}

// Evict frees key regardless of owner. The orphaned holder's own Release
// then no-ops.
func (s *ActiveSet) Evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, key)
}

// Held reports whether key is currently claimed.
func (s *ActiveSet) Held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.active[key]
	return held
}

// Len returns the number of live keys.
func (s *ActiveSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// FileLock is an exclusive advisory lock with the holder's PID written into
// the lock file.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock (another node may be running): %w", err)
	}

	if err := f.Truncate(0); err != nil {
		fl.abandon(f)
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		fl.abandon(f)
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		fl.abandon(f)
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		fl.abandon(f)
		return fmt.Errorf("sync lock file: %w", err)
	}

	fl.file = f
	return nil
}

func (fl *FileLock) abandon(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}

func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(fl.path)
	fl.file = nil
	return nil
}
