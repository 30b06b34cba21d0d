// Package events describes what happened in a counting session and ships it
// to interested parties (status stream, MQTT).
package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies an event type. It is also the MQTT topic suffix.
type Kind string

const (
	KindSmile            Kind = "smile"
	KindEvaluationFailed Kind = "evaluation_failed"
	KindCaptureFailed    Kind = "capture_failed"
	KindState            Kind = "state"
)

// Event is one published occurrence.
type Event struct {
	ID            string    `json:"id" msgpack:"id"`
	Session       string    `json:"session" msgpack:"session"`
	Kind          Kind      `json:"kind" msgpack:"kind"`
	Seq           uint64    `json:"seq,omitempty" msgpack:"seq,omitempty"`
	Count         int       `json:"count" msgpack:"count"`
	Probabilities []float64 `json:"probabilities,omitempty" msgpack:"probabilities,omitempty"`
	State         string    `json:"state,omitempty" msgpack:"state,omitempty"`
	Error         string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Time          time.Time `json:"time" msgpack:"time"`
}

// New stamps an event with a fresh ULID and the current time.
func New(session string, kind Kind) Event {
	id := ulid.Make()
	return Event{
		ID:      id.String(),
		Session: session,
		Kind:    kind,
		Time:    ulid.Time(id.Time()),
	}
}

// Publisher delivers events somewhere. Publish may block.
type Publisher interface {
	Publish(e Event) error
	Close() error
}

// Emitter accepts events without blocking.
type Emitter interface {
	Emit(e Event)
}

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event.
var Discard Emitter = discard{}
