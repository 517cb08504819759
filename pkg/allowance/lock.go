package allowance

import "sync"

// customerLocks serializes allowance decisions per customer within a process
type customerLocks struct {
	mu    sync.Mutex
	locks map[string]*customerLock
}

type customerLock struct {
	mu   sync.Mutex
	refs int
}

func newCustomerLocks() *customerLocks {
	return &customerLocks{locks: make(map[string]*customerLock)}
}

// lock blocks until customerID is free and returns the unlock func
func (l *customerLocks) lock(customerID string) func() {
	l.mu.Lock()
	cl, ok := l.locks[customerID]
	if !ok {
		cl = &customerLock{}
		l.locks[customerID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, customerID)
		}
		l.mu.Unlock()
	}
}
