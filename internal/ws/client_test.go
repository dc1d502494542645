package ws

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroom-service/internal/config"
)

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, string(payload))
		default:
			return out
		}
	}
}

func TestEnqueueOverflowDisconnects(t *testing.T) {
	client := newTestClient("alice", ClientOptions{QueueSize: 2, OverflowPolicy: config.OverflowDisconnect})

	require.True(t, client.Enqueue([]byte("a")))
	require.True(t, client.Enqueue([]byte("b")))
	assert.False(t, client.Enqueue([]byte("c")))
	assert.True(t, client.isClosed())
	assert.False(t, client.Enqueue([]byte("d")))
	assert.Equal(t, []string{"a", "b"}, drain(client))
}

func TestEnqueueOverflowDropsOldest(t *testing.T) {
	client := newTestClient("alice", ClientOptions{QueueSize: 2, OverflowPolicy: config.OverflowDropOldest})

	require.True(t, client.Enqueue([]byte("a")))
	require.True(t, client.Enqueue([]byte("b")))
	require.True(t, client.Enqueue([]byte("c")))
	assert.False(t, client.isClosed())
	assert.Equal(t, []string{"b", "c"}, drain(client))
}

func TestCloseIsIdempotent(t *testing.T) {
	client := newTestClient("alice", ClientOptions{})
	client.Close()
	client.Close()
	assert.True(t, client.isClosed())
}

func TestRewriteSignalStripsTargetAndStampsSender(t *testing.T) {
	out, err := rewriteSignal([]byte(`{"type":"call_offer","target":"bob","sdp":{"v":0}}`), "alice")
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.Equal(t, "call_offer", fields["type"])
	assert.Equal(t, "alice", fields["from"])
	assert.NotContains(t, fields, "target")
	assert.Equal(t, map[string]any{"v": float64(0)}, fields["sdp"])
}

func TestParseInbound(t *testing.T) {
	env, err := parseInbound([]byte(`{"type":"edit","messageId":7,"newText":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), env.MessageID)

	_, err = parseInbound([]byte(`{"text":"no type"}`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = parseInbound([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseInboundLeavesSignalingPayloadOpaque(t *testing.T) {
	env, err := parseInbound([]byte(`{"type":"call_offer","target":"bob","text":{"sdp":"v=0"},"messageId":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "call_offer", env.Type)
	assert.Equal(t, "bob", env.Target)
	assert.Empty(t, env.Text)
}

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"https://Chat.Example.com", "not a url", " "})
	require.True(t, policy.configured())

	allowed := httptest.NewRequest("GET", "/ws", nil)
	allowed.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, policy.check(allowed))

	blocked := httptest.NewRequest("GET", "/ws", nil)
	blocked.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, policy.check(blocked))

	assert.True(t, policy.check(httptest.NewRequest("GET", "/ws", nil)))

	assert.False(t, newOriginPolicy(nil).configured())
	assert.True(t, newOriginPolicy([]string{"*"}).check(blocked))
}
