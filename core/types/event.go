package types

// Event represents a typed event emitted after a ledger state transition.
// Sequence is the ledger's monotonically increasing operation counter at the
// time the event was produced, letting indexers order and deduplicate events.
type Event struct {
	Type       string            `json:"type"`
	Sequence   uint64            `json:"sequence"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the attribute value stored under key, or an empty string.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
