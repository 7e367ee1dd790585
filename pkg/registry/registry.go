// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"os"
)

func LoadRegistry(path string) (*EventRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg EventRegistry
	err = json.Unmarshal(data, &reg)
	return &reg, err
}

// Default returns the built-in registry used when no registry file is
// configured. Topic names match the sibling services' subscriptions.
func Default() *EventRegistry {
	return &EventRegistry{
		Version: "1",
		Events: []Event{
			{
				Type:        "CREATE_APPLICATION",
				Topic:       "create-application",
				Description: "Application aggregate created locally; siblings link user and create status",
			},
			{
				Type:         "APPLICATION_STATUS_ROLLBACK",
				Topic:        "create-application-status-rollback",
				Description:  "Undo a status record created for a saga that is compensating",
				Compensating: true,
			},
			{
				Type:         "CANCEL_SUBMITTED_APPLICATION",
				Topic:        "cancel-submitted-application",
				Description:  "Announce that the submitted application is withdrawn",
				Compensating: true,
			},
			{
				Type:         "DELETE_USER",
				Topic:        "delete-user",
				Description:  "Tell the user service to unlink the receipt code",
				Compensating: true,
			},
		},
	}
}

// TopicFor resolves the broker topic for an event type.
func (r *EventRegistry) TopicFor(eventType string) (string, bool) {
	for _, e := range r.Events {
		if e.Type == eventType {
			return e.Topic, true
		}
	}
	return "", false
}
