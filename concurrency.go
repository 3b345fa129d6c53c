package clypsalot

import "sync"

// recursiveMutex is a mutex that the owning goroutine may acquire more
// than once without deadlocking itself, matching the recursive lock
// every Object carries so a lifecycle hook can call back into the
// object's own public API without releasing the lock first. Ownership
// is tracked by goroutine label (see goroutineLabel in log.go); Go has
// no supported API for a true goroutine id, so this is diagnostic-grade
// rather than a kernel-level guarantee, same as the label it reuses.
type recursiveMutex struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner string
	depth int
}

func newRecursiveMutex() *recursiveMutex {
	m := &recursiveMutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *recursiveMutex) Lock() {
	id := goroutineLabel()

	m.mu.Lock()
	for m.depth > 0 && m.owner != id {
		m.cond.Wait()
	}
	m.owner = id
	m.depth++
	m.mu.Unlock()
}

// Unlock releases one level of recursion. Unlocking from a goroutine
// that does not hold the lock is a MutexUnlockError rather than
// undefined behavior.
func (m *recursiveMutex) Unlock() error {
	id := goroutineLabel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depth == 0 || m.owner != id {
		return NewMutexUnlockError("unlock attempted by a goroutine that does not hold the lock")
	}

	m.depth--
	if m.depth == 0 {
		m.owner = ""
		m.cond.Broadcast()
	}
	return nil
}

// debugMutex is a plain, non-recursive mutex that tracks its owner and
// refuses a second Lock from the same goroutine instead of deadlocking
// silently, matching the "debug-build mutex wrapper" the concurrency
// model calls for on components that are never meant to be re-entered,
// such as MessageProcessor's queue lock. Production code paths never
// call Lock from inside a handler they themselves are running under
// this mutex; when one does by mistake, MutexLockError reports it
// immediately instead of hanging forever.
type debugMutex struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner string
	held  bool
}

func newDebugMutex() *debugMutex {
	m := &debugMutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *debugMutex) Lock() error {
	id := goroutineLabel()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held && m.owner == id {
		return NewMutexLockError("recursive lock attempted on a non-recursive mutex by goroutine %s", id)
	}
	for m.held {
		m.cond.Wait()
	}
	m.held = true
	m.owner = id
	return nil
}

func (m *debugMutex) Unlock() error {
	id := goroutineLabel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held || m.owner != id {
		return NewMutexUnlockError("unlock attempted by a goroutine that does not hold the lock")
	}
	m.held = false
	m.owner = ""
	m.cond.Signal()
	return nil
}
