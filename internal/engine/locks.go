package engine

import "sync"

// botLocks serializes heartbeats per bot. A bot whose heartbeat is still
// running when the next tick fires waits instead of racing itself.
type botLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newBotLocks() *botLocks {
	return &botLocks{locks: make(map[string]*sync.Mutex)}
}

func (b *botLocks) lock(botID string) *sync.Mutex {
	b.mu.Lock()
	l, ok := b.locks[botID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[botID] = l
	}
	b.mu.Unlock()
	l.Lock()
	return l
}
