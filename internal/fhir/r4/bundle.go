package r4

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR R4 Bundle resource. The exchange consumes and
// produces message bundles whose first entry is a MessageHeader.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"` // message | collection | transaction | ...
	Timestamp    time.Time     `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry holds one resource within a bundle. The resource is kept as
// raw JSON so a bundle can carry heterogeneous resource types.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// MessageHeader identifies the event and routing of a message bundle.
type MessageHeader struct {
	ResourceType string               `json:"resourceType"`
	ID           string               `json:"id,omitempty"`
	EventCoding  Coding               `json:"eventCoding"`
	Destination  []MessageDestination `json:"destination,omitempty"`
	Sender       *Reference           `json:"sender,omitempty"`
	Source       MessageSource        `json:"source"`
	Focus        []Reference          `json:"focus,omitempty"`
	Response     *MessageResponse     `json:"response,omitempty"`
}

// MessageDestination is a message routing target.
type MessageDestination struct {
	Endpoint string     `json:"endpoint"`
	Receiver *Reference `json:"receiver,omitempty"`
}

// MessageSource identifies the sending system.
type MessageSource struct {
	Name     string `json:"name,omitempty"`
	Endpoint string `json:"endpoint"`
}

// MessageResponse links a response message to its request.
type MessageResponse struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"` // ok | transient-error | fatal-error
}

// Task represents a FHIR R4 Task resource. The exchange uses Task messages
// for cancel and status-poll requests.
type Task struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	Identifier   []Identifier     `json:"identifier,omitempty"`
	Status       string           `json:"status"` // requested | accepted | completed | ...
	Intent       string           `json:"intent"`
	Code         *CodeableConcept `json:"code,omitempty"`
	Focus        *Reference       `json:"focus,omitempty"`
	AuthoredOn   time.Time        `json:"authoredOn,omitempty"`
	Requester    *Reference       `json:"requester,omitempty"`
	Owner        *Reference       `json:"owner,omitempty"`
	ReasonCode   *CodeableConcept `json:"reasonCode,omitempty"`
}

// NewEntry marshals a resource into a bundle entry.
func NewEntry(fullURL string, resource interface{}) (BundleEntry, error) {
	raw, err := json.Marshal(resource)
	if err != nil {
		return BundleEntry{}, fmt.Errorf("marshal bundle entry: %w", err)
	}
	return BundleEntry{FullURL: fullURL, Resource: raw}, nil
}

// ResourceType peeks at the resourceType of the entry without fully
// decoding the resource.
func (e *BundleEntry) ResourceType() string {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(e.Resource, &probe); err != nil {
		return ""
	}
	return probe.ResourceType
}

// FindResource locates the first entry of the given resource type and
// decodes it into dst. Returns false when the bundle has no such entry.
func (b *Bundle) FindResource(resourceType string, dst interface{}) (bool, error) {
	for i := range b.Entry {
		if b.Entry[i].ResourceType() != resourceType {
			continue
		}
		if err := json.Unmarshal(b.Entry[i].Resource, dst); err != nil {
			return false, fmt.Errorf("decode %s: %w", resourceType, err)
		}
		return true, nil
	}
	return false, nil
}

// ToJSON serializes the bundle.
func (b *Bundle) ToJSON() ([]byte, error) {
	return json.Marshal(b)
}

// FromJSON deserializes a bundle.
func (b *Bundle) FromJSON(data []byte) error {
	return json.Unmarshal(data, b)
}
