// pkg/registry/schema.go
package registry

// EventRegistry describes every event type the saga emits through the outbox
// and the broker topic each one is published to.
type EventRegistry struct {
	Version     string  `json:"version"`
	LastUpdated string  `json:"lastUpdated"`
	Events      []Event `json:"events"`
}

type Event struct {
	Type          string                 `json:"type"`
	Topic         string                 `json:"topic"`
	Description   string                 `json:"description"`
	PayloadSchema map[string]interface{} `json:"payloadSchema"`
	Compensating  bool                   `json:"compensating"`
}
