// Package stream is the pull-based pipeline engine.
//
// A pipeline is a chain of *Stage values. Nothing runs until the driver
// ranges over the tail's Events; each stage then pulls from its upstream,
// so all work happens synchronously inside that pull. Items and control
// signals travel in the same sequence as Event values.
package stream

import (
	"iter"
)

// Item is one unit of pipeline data: a raw line, a record, a blob.
type Item = any

type Signal uint8

const (
	// None marks an Event that carries an Item.
	None Signal = iota
	// Skip is discarded by the next stage.
	Skip
	// Idle says no data is available right now. Windowed stages use it to
	// decide whether a time trigger has fired.
	Idle
)

func (s Signal) String() string {
	switch s {
	case None:
		return "NONE"
	case Skip:
		return "SKIP"
	case Idle:
		return "IDLE"
	}
	return "UNKNOWN"
}

// Event is either an Item (Signal == None) or a bare control signal.
type Event struct {
	Item   Item
	Signal Signal
}

func Of(item Item) Event { return Event{Item: item} }

func SignalEvent(s Signal) Event { return Event{Signal: s} }

func (e Event) IsSignal() bool { return e.Signal != None }

// Seq is the lazy sequence every stage produces. A non-nil error ends it.
type Seq = iter.Seq2[Event, error]
