// Package event implements the typed application-level messages attached
// to packages (spec §3 Event) and the registry that dispatches them to
// user-provided handlers.
package event

import (
	"pygase/internal/wire"
)

// Event is a typed message with positional and named arguments. Type is an
// application-level identifier; a handler need not be registered on the
// sending side for the event to be delivered.
type Event struct {
	Type   string
	Args   []any
	Kwargs wire.Record
}

// New constructs an Event, normalizing nil argument collections to empty
// ones so Encode always produces a well-formed record.
func New(eventType string, args []any, kwargs wire.Record) Event {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = wire.Record{}
	}
	return Event{Type: eventType, Args: args, Kwargs: kwargs}
}

// Encode serializes the event into its self-describing byte form, without
// the 2-byte length prefix callers attach when framing it into an
// EventBlock (spec §4.3).
func (e Event) Encode() ([]byte, error) {
	return wire.Encode(wire.Record{
		"type":   e.Type,
		"args":   e.Args,
		"kwargs": e.Kwargs,
	})
}

// Decode deserializes an Event previously produced by Encode.
func Decode(data []byte) (Event, error) {
	record, err := wire.Decode(data)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Kwargs: wire.Record{}}
	if t, ok := record["type"].(string); ok {
		ev.Type = t
	}
	if args, ok := record["args"].([]any); ok {
		ev.Args = args
	} else {
		ev.Args = []any{}
	}
	if kwargs, ok := record["kwargs"].(wire.Record); ok {
		ev.Kwargs = kwargs
	} else if kwargs, ok := record["kwargs"].(map[string]any); ok {
		ev.Kwargs = kwargs
	}
	return ev, nil
}
