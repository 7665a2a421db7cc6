package connection

import (
	"cmp"
	"slices"
	"strconv"
	"sync"
)

// Subscription is a registered topic interest.
type Subscription struct {
	ID       string   // Stable STOMP subscription id
	Topic    string   // Destination
	Callback Callback // Current handler
	Live     bool     // A SUBSCRIBE frame is active on the current session
	order    uint64
}

// Registry tracks desired subscriptions independently of connection state.
// At most one entry exists per topic; re-registering replaces the callback
// and keeps the original id and order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Subscription // topic -> entry
	byID    map[string]string        // id -> topic
	nextID  uint64
	nextOrd uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Subscription),
		byID:    make(map[string]string),
	}
}

// Set registers cb for topic. It returns a copy of the entry and whether an
// existing entry was replaced.
func (r *Registry) Set(topic string, cb Callback) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[topic]; ok {
		e.Callback = cb
		return *e, true
	}

	r.nextID++
	r.nextOrd++
	e := &Subscription{
		ID:       "sub-" + strconv.FormatUint(r.nextID, 10),
		Topic:    topic,
		Callback: cb,
		order:    r.nextOrd,
	}
	r.entries[topic] = e
	r.byID[e.ID] = topic
	return *e, false
}

// Remove deletes the entry for topic and returns it.
func (r *Registry) Remove(topic string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[topic]
	if !ok {
		return Subscription{}, false
	}
	delete(r.entries, topic)
	delete(r.byID, e.ID)
	return *e, true
}

// Get returns the entry for topic.
func (r *Registry) Get(topic string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[topic]
	if !ok {
		return Subscription{}, false
	}
	return *e, true
}

// Lookup returns the entry for a subscription id.
func (r *Registry) Lookup(id string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topic, ok := r.byID[id]
	if !ok {
		return Subscription{}, false
	}
	return *r.entries[topic], true
}

// Snapshot returns all entries in registration order.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Subscription) int {
		return cmp.Compare(a.order, b.order)
	})
	return out
}

// Len returns the number of registered topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) setLive(topic string, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[topic]; ok {
		e.Live = live
	}
}

func (r *Registry) clearLive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.Live = false
	}
}
