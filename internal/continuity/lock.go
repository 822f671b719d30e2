package continuity

import "sync"

// Locker hands out one advisory mutex per instrument. Gap repair and bar
// ingestion share a Locker so writes to the same series never interleave,
// while different instruments proceed independently.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the instrument's lock is held and returns its release.
func (l *Locker) Lock(instrument string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[instrument]
	if !ok {
		m = &sync.Mutex{}
		l.locks[instrument] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// TryLock acquires the instrument's lock without blocking.
func (l *Locker) TryLock(instrument string) (unlock func(), ok bool) {
	l.mu.Lock()
	m, exists := l.locks[instrument]
	if !exists {
		m = &sync.Mutex{}
		l.locks[instrument] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}
