package ws

import (
	"context"
	"time"

	"chatroom-service/internal/models"
	"chatroom-service/internal/observability"
)

func (g *Gateway) publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, observability.RoutingWSEvents, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "chat",
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationSince(info.ConnectedAt),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"username":  info.Username,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func (g *Gateway) publishMessageEvent(ctx context.Context, event string, msg models.Message, info ConnInfo) {
	_ = observability.PublishEvent(ctx, observability.RoutingChatEvents, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: event,
		Payload: map[string]interface{}{
			"message_id": msg.ID,
			"author":     msg.Author,
			"scope":      string(msg.Scope),
			"recipient":  msg.RecipientName(),
			"timestamp":  msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func durationSince(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return time.Since(t).Milliseconds()
}
