package conversation

import (
	"errors"
	"sort"
	"sync"
)

var ErrDuplicate = errors.New("conversation: already registered")

// Registry tracks conversations running in this process.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Conversation
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Conversation)}
}

func (r *Registry) Add(c *Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[c.ID()]; ok {
		return ErrDuplicate
	}
	r.items[c.ID()] = c
	return nil
}

// Remove deletes c only if it is still the registered instance for its id.
func (r *Registry) Remove(c *Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.items[c.ID()]; ok && cur == c {
		delete(r.items, c.ID())
	}
}

func (r *Registry) Get(id string) (*Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	return c, ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// TerminateAll ends every registered conversation; used on shutdown.
func (r *Registry) TerminateAll() {
	r.mu.RLock()
	all := make([]*Conversation, 0, len(r.items))
	for _, c := range r.items {
		all = append(all, c)
	}
	r.mu.RUnlock()

	for _, c := range all {
		c.Terminate()
	}
}
