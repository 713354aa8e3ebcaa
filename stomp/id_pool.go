package stomp

import (
	"strconv"
	"sync"
)

// IDAllocator hands out subscription ids that are unique among the ids
// currently held. Implementations must be safe for concurrent use.
type IDAllocator interface {
	Allocate() string
	Release(id string)
}

// IDPool is the mutex-guarded IDAllocator. Released ids are handed out again
// before new ones are minted.
type IDPool struct {
	lock     sync.Mutex
	next     uint64
	inUse    map[string]struct{}
	released []string
}

// DefaultIDPool is shared by every session that is not given an allocator,
// which keeps subscription ids unique across sessions in the process.
var DefaultIDPool = NewIDPool()

// NewIDPool returns an empty pool.
func NewIDPool() *IDPool {
	return &IDPool{inUse: make(map[string]struct{})}
}

// Allocate returns an id no other holder owns.
func (pool *IDPool) Allocate() string {
	pool.lock.Lock()
	defer pool.lock.Unlock()

	for len(pool.released) > 0 {
		id := pool.released[len(pool.released)-1]
		pool.released = pool.released[:len(pool.released)-1]
		if _, taken := pool.inUse[id]; !taken {
			pool.inUse[id] = struct{}{}
			return id
		}
	}

	for {
		pool.next++
		id := strconv.FormatUint(pool.next, 10)
		if _, taken := pool.inUse[id]; !taken {
			pool.inUse[id] = struct{}{}
			return id
		}
	}
}

// Reserve marks an externally chosen id as held. It returns false when the
// id is already held.
func (pool *IDPool) Reserve(id string) bool {
	pool.lock.Lock()
	defer pool.lock.Unlock()
	if _, taken := pool.inUse[id]; taken {
		return false
	}
	pool.inUse[id] = struct{}{}
	return true
}

// Release returns id to the pool. Unknown ids are ignored.
func (pool *IDPool) Release(id string) {
	pool.lock.Lock()
	defer pool.lock.Unlock()
	if _, taken := pool.inUse[id]; !taken {
		return
	}
	delete(pool.inUse, id)
	pool.released = append(pool.released, id)
}

// InUse returns the number of held ids.
func (pool *IDPool) InUse() int {
	pool.lock.Lock()
	defer pool.lock.Unlock()
	return len(pool.inUse)
}
