package ingestion

import (
	"fmt"
	"strings"

	"LendingPool/internal/event"
)

// maxPayloadBytes bounds a single inbound payload. Pool configs are the
// largest legitimate messages.
const maxPayloadBytes = 1 << 20

// ParseRawEvent converts a raw JSON payload into a typed, validated event.
// eventType is either the wire name ("supply") or the type name ("Supply").
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	et, err := event.ParseEventType(eventType)
	if err != nil {
		return nil, err
	}
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("parse %s: empty payload", et.Name())
	}
	if len(raw.Data) > maxPayloadBytes {
		return nil, fmt.Errorf("parse %s: payload of %d bytes exceeds %d", et.Name(), len(raw.Data), maxPayloadBytes)
	}

	evt, err := event.Decode(et, raw.Data)
	if err != nil {
		return nil, err
	}
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", et.Name(), err)
	}
	return evt, nil
}

// ResolveEventType maps a concrete subject to its configured event type using
// the longest matching filter prefix.
func ResolveEventType(subject string, subjects []SubjectConfig) (string, bool) {
	best, bestLen := "", -1
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) && len(prefix) > bestLen {
			best, bestLen = cfg.EventType, len(prefix)
		}
	}
	return best, bestLen >= 0
}
