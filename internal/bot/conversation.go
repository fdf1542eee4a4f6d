package bot

import "sync"

// mode is the per-user conversation state gating how plain text is read.
type mode int

const (
	modeIdle mode = iota
	modeAwaitingName
	modeAwaitingTasks
)

// conversationStore holds each user's conversation mode in memory. Handlers
// transition it explicitly; end and donetask always force modeIdle.
type conversationStore struct {
	mu    sync.RWMutex
	modes map[string]mode
}

func newConversationStore() *conversationStore {
	return &conversationStore{
		modes: make(map[string]mode),
	}
}

func (c *conversationStore) Set(userID string, m mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m == modeIdle {
		delete(c.modes, userID)
		return
	}
	c.modes[userID] = m
}

func (c *conversationStore) Get(userID string) mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modes[userID]
}
