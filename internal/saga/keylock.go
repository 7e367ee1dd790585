// internal/saga/keylock.go
package saga

import "sync"

// keyLock serializes transitions per receipt code with striped mutexes.
// Transitions for different receipt codes run in parallel; two transitions
// for the same code never interleave. The database row lock backs this up
// across processes.
type keyLock struct {
	stripes []sync.Mutex
}

func newKeyLock(stripes int) *keyLock {
	if stripes <= 0 {
		stripes = 64
	}
	return &keyLock{stripes: make([]sync.Mutex, stripes)}
}

func (k *keyLock) lock(receiptCode int64) func() {
	m := &k.stripes[uint64(receiptCode)%uint64(len(k.stripes))]
	m.Lock()
	return m.Unlock
}
