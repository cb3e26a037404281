package scheduler

import (
	"hash/fnv"
	"sync"
)

// mintLocks serializes per-token work across jobs. Locks are striped:
// each mint hashes onto one of n mutexes, so two mints may share a
// stripe. Callers that fail TryLock skip the token for the current tick
// instead of blocking.
type mintLocks struct {
	stripes []sync.Mutex
}

func newMintLocks(n int) *mintLocks {
	if n <= 0 {
		n = 64
	}
	return &mintLocks{stripes: make([]sync.Mutex, n)}
}

// TryLock attempts to take the stripe for mint. On success it returns
// the release func and true.
func (l *mintLocks) TryLock(mint string) (func(), bool) {
	h := fnv.New32a()
	h.Write([]byte(mint))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}
