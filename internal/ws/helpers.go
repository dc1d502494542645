package ws

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"
)

func newConnID() string {
	return uuid.NewString()
}

// encode marshals a server event. Event types are plain structs, so failure is a programming error.
func encode(event any) []byte {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws encode event failed: %v", err)
		return nil
	}
	return payload
}

// deliver enqueues payload on every client and returns how many accepted it.
func deliver(clients []*Client, payload []byte) int {
	if payload == nil {
		return 0
	}
	accepted := 0
	for _, client := range clients {
		if client.Enqueue(payload) {
			accepted++
		}
	}
	return accepted
}
