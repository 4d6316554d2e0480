package types

// Event represents a typed event emitted by a settlement operation.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
