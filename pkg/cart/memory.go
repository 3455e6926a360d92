package cart

import (
	"context"
	"sync"
	"time"
)

type sessionCart struct {
	qty     map[string]int
	order   []string
	touched time.Time
}

// MemoryStore keeps carts in process memory. A cart left untouched for
// longer than the TTL reads as empty and is dropped by Sweep.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]*sessionCart
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore returns an empty store. A ttl <= 0 keeps carts until they
// are cleared.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		carts: make(map[string]*sessionCart),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *MemoryStore) expired(c *sessionCart, now time.Time) bool {
	return m.ttl > 0 && now.Sub(c.touched) > m.ttl
}

// live returns the session's cart, dropping it first if it has expired.
// The caller holds m.mu.
func (m *MemoryStore) live(session string) (*sessionCart, bool) {
	c, ok := m.carts[session]
	if !ok {
		return nil, false
	}
	if m.expired(c, m.now()) {
		delete(m.carts, session)
		return nil, false
	}
	return c, true
}

func (m *MemoryStore) Add(_ context.Context, session, itemID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.live(session)
	if !ok {
		c = &sessionCart{qty: make(map[string]int)}
		m.carts[session] = c
	}
	if _, exists := c.qty[itemID]; !exists {
		c.order = append(c.order, itemID)
	}
	c.qty[itemID] += qty
	c.touched = m.now()
	return c.qty[itemID], nil
}

func (m *MemoryStore) Remove(_ context.Context, session, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.live(session)
	if !ok {
		return false, nil
	}
	if _, exists := c.qty[itemID]; !exists {
		return false, nil
	}
	delete(c.qty, itemID)
	for i, id := range c.order {
		if id == itemID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.touched = m.now()
	return true, nil
}

func (m *MemoryStore) Items(_ context.Context, session string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.live(session)
	if !ok {
		return []Item{}, nil
	}
	items := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		items = append(items, Item{ID: id, Qty: c.qty[id]})
	}
	return items, nil
}

func (m *MemoryStore) Clear(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, session)
	return nil
}

// Sweep drops every expired cart and returns how many were removed.
func (m *MemoryStore) Sweep(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for session, c := range m.carts {
		if m.expired(c, now) {
			delete(m.carts, session)
			removed++
		}
	}
	return removed
}

// Len returns the number of carts held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.carts)
}

func (m *MemoryStore) Close() error {
	return nil
}
