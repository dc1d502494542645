package ws

import (
	"context"
	"log"

	"chatroom-service/internal/models"
	"chatroom-service/internal/observability"
	"chatroom-service/internal/repositories"
)

// Presence derives online users from the hub and pushes presence and unread
// count events. Callers serialize broadcasts.
type Presence struct {
	hub      *Hub
	messages repositories.MessageRepository
}

func NewPresence(hub *Hub, messages repositories.MessageRepository) *Presence {
	return &Presence{hub: hub, messages: messages}
}

// OnlineUsers returns the sorted usernames with at least one live connection.
func (p *Presence) OnlineUsers() []string {
	return p.hub.OnlineUsers()
}

// Connections returns the number of live sockets.
func (p *Presence) Connections() int {
	return p.hub.Count()
}

// BroadcastOnlineUsers sends the full online set to every connection.
func (p *Presence) BroadcastOnlineUsers() {
	users := p.hub.OnlineUsers()
	observability.SetOnlineUsers(len(users))
	deliver(p.hub.All(), encode(models.OnlineUsersEvent{
		Type:  models.EventOnlineUsers,
		Users: users,
	}))
}

// PushUnreadCounts sends username's per-sender unread counts to that user's connections only.
func (p *Presence) PushUnreadCounts(ctx context.Context, username string) error {
	conns := p.hub.ConnectionsFor(username)
	if len(conns) == 0 {
		return nil
	}
	counts, err := p.messages.UnreadCountsPerSender(ctx, username)
	if err != nil {
		log.Printf("ws unread counts user=%s: %v", username, err)
		return err
	}
	deliver(conns, encode(models.UnreadCountsEvent{
		Type:   models.EventUnreadCounts,
		Counts: counts,
	}))
	return nil
}
