package ws

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client envelope types.
const (
	envChat            = "chat"
	envEdit            = "edit"
	envDelete          = "delete"
	envMarkRead        = "mark_read"
	envGetUnreadCounts = "get_unread_counts"
	envHeartbeat       = "heartbeat"
)

// signalingTypes are forwarded verbatim to the target user.
var signalingTypes = map[string]struct{}{
	"call_offer":    {},
	"call_answer":   {},
	"ice_candidate": {},
	"call_end":      {},
	"call_reject":   {},
	"call_busy":     {},
	"offer":         {},
	"answer":        {},
	"ice-candidate": {},
	"end":           {},
	"busy":          {},
	"reject":        {},
}

func isSignaling(envelopeType string) bool {
	_, ok := signalingTypes[envelopeType]
	return ok
}

var (
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrUnknownEnvelope = errors.New("unknown envelope type")
	errTargetOffline   = errors.New("signaling target offline")
)

// inbound is the union of every client envelope. Each handler reads the fields it needs.
type inbound struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	MessageType string `json:"messageType"`
	ChatType    string `json:"chatType"`
	Recipient   string `json:"recipient"`
	MessageID   int64  `json:"messageId"`
	NewText     string `json:"newText"`
	Sender      string `json:"sender"`
	Target      string `json:"target"`
}

// parseInbound reads the envelope type first. Signaling payloads are opaque,
// so only their routing target is decoded; core envelopes decode in full.
func parseInbound(data []byte) (inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return inbound{}, err
	}
	if head.Type == "" {
		return inbound{}, ErrInvalidEnvelope
	}
	if isSignaling(head.Type) {
		var route struct {
			Target string `json:"target"`
		}
		if err := json.Unmarshal(data, &route); err != nil {
			return inbound{Type: head.Type}, fmt.Errorf("%w: target: %v", ErrInvalidEnvelope, err)
		}
		return inbound{Type: head.Type, Target: route.Target}, nil
	}

	var env inbound
	if err := json.Unmarshal(data, &env); err != nil {
		return inbound{Type: head.Type}, err
	}
	return env, nil
}

// rewriteSignal drops the routing target and stamps the authenticated sender.
func rewriteSignal(data []byte, from string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	delete(fields, "target")
	sender, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	fields["from"] = sender
	return json.Marshal(fields)
}
