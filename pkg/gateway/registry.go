package gateway

import (
	"sort"
	"sync"
	"time"
)

const idleAfter = 5 * time.Minute

// ClientRegistry tracks connected callers by client id.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()
}

func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	return client, exists
}

// GetAll returns every client regardless of state.
func (r *ClientRegistry) GetAll() []*Client {
	return r.snapshot(nil)
}

// InCall returns the clients past the greeting and not yet hanging up.
func (r *ClientRegistry) InCall() []*Client {
	return r.snapshot(func(c *Client) bool { return c.State() == StateInCall })
}

func (r *ClientRegistry) snapshot(keep func(*Client) bool) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		if keep == nil || keep(client) {
			clients = append(clients, client)
		}
	}
	return clients
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// PersonaCounts returns how many callers are talking to each persona.
func (r *ClientRegistry) PersonaCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, client := range r.clients {
		counts[client.Persona]++
	}
	return counts
}

// Connected describes every client, oldest connection first.
func (r *ClientRegistry) Connected() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, ClientInfo{
			ID:           c.ID,
			Persona:      c.Persona,
			SessionKey:   c.SessionKey,
			ConnectedAt:  c.ConnectedAt,
			LastActivity: c.LastActivity,
			IPAddress:    c.IPAddress,
			Idle:         now.Sub(c.LastActivity) > idleAfter,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Touch records caller activity. LastActivity is only written here, under
// the registry lock.
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[clientID]; exists {
		client.LastActivity = time.Now()
	}
}
