package ws

import (
	"sort"
	"sync"
)

// Hub is the registry of live connections and the users they are authenticated as.
// A user may hold several connections; a connection belongs to exactly one user.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]string
	users   map[string]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]string),
		users:   make(map[string]map[*Client]struct{}),
	}
}

// Register binds client to username, replacing any earlier binding of the same client.
func (h *Hub) Register(client *Client, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if previous, ok := h.clients[client]; ok {
		h.removeLocked(client, previous)
	}
	h.clients[client] = username
	if _, ok := h.users[username]; !ok {
		h.users[username] = make(map[*Client]struct{})
	}
	h.users[username][client] = struct{}{}
}

// Unregister removes client and reports whether it was registered.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	username, ok := h.clients[client]
	if !ok {
		return false
	}
	h.removeLocked(client, username)
	return true
}

func (h *Hub) removeLocked(client *Client, username string) {
	delete(h.clients, client)
	if conns, ok := h.users[username]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, username)
		}
	}
}

// ConnectionsFor returns the live connections of username.
func (h *Hub) ConnectionsFor(username string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.users[username]
	out := make([]*Client, 0, len(conns))
	for client := range conns {
		out = append(out, client)
	}
	return out
}

// IsOnline reports whether username has at least one live connection.
func (h *Hub) IsOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[username]) > 0
}

// OnlineUsers returns the sorted set of connected usernames.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.users))
	for username := range h.users {
		users = append(users, username)
	}
	sort.Strings(users)
	return users
}

// All returns a snapshot of every live connection.
func (h *Hub) All() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		out = append(out, client)
	}
	return out
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll asks every registered client to close. Cleanup happens in each read pump.
func (h *Hub) CloseAll() int {
	clients := h.All()
	for _, client := range clients {
		client.Close()
	}
	return len(clients)
}
