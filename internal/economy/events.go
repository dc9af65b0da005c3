package economy

import (
	"database/sql/driver"
	"fmt"
	"math/rand"
)

// Event is the macro-economic condition drawn once per epoch.
type Event uint8

const (
	EventNormal Event = iota
	EventBoom
	EventRecession
	EventOpportunity
	eventCount
)

var eventNames = [eventCount]string{
	EventNormal:      "normal",
	EventBoom:        "boom",
	EventRecession:   "recession",
	EventOpportunity: "opportunity",
}

// EventProfile biases every rule's magnitudes for one epoch.
type EventProfile struct {
	Event  Event
	Weight float64 // Base draw weight before the market cycle tilt
	Gain   float64 // Multiplier on money earned from the market
	Loss   float64 // Multiplier on money lost to the market
	Luck   float64 // Added to win probabilities of chance-based rules
}

var eventProfiles = [eventCount]EventProfile{
	EventNormal:      {Event: EventNormal, Weight: 50, Gain: 1.0, Loss: 1.0, Luck: 0},
	EventBoom:        {Event: EventBoom, Weight: 20, Gain: 1.5, Loss: 0.7, Luck: 0.10},
	EventRecession:   {Event: EventRecession, Weight: 20, Gain: 0.7, Loss: 1.4, Luck: -0.10},
	EventOpportunity: {Event: EventOpportunity, Weight: 10, Gain: 1.2, Loss: 1.0, Luck: 0.05},
}

// Profile returns the effect profile for the event.
func (e Event) Profile() EventProfile {
	if e >= eventCount {
		return eventProfiles[EventNormal]
	}
	return eventProfiles[e]
}

func (e Event) String() string {
	if e >= eventCount {
		return fmt.Sprintf("event(%d)", uint8(e))
	}
	return eventNames[e]
}

// Events lists every event in declaration order.
func Events() []Event {
	out := make([]Event, 0, eventCount)
	for e := Event(0); e < eventCount; e++ {
		out = append(out, e)
	}
	return out
}

// ParseEvent converts raw input into an Event.
func ParseEvent(value string) (Event, error) {
	for e := Event(0); e < eventCount; e++ {
		if eventNames[e] == value {
			return e, nil
		}
	}
	return 0, fmt.Errorf("invalid event %q", value)
}

func (e Event) MarshalText() ([]byte, error) {
	if e >= eventCount {
		return nil, fmt.Errorf("invalid event %d", uint8(e))
	}
	return []byte(eventNames[e]), nil
}

func (e *Event) UnmarshalText(text []byte) error {
	parsed, err := ParseEvent(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Value stores the event by name.
func (e Event) Value() (driver.Value, error) {
	if e >= eventCount {
		return nil, fmt.Errorf("invalid event %d", uint8(e))
	}
	return eventNames[e], nil
}

func (e *Event) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return e.UnmarshalText([]byte(v))
	case []byte:
		return e.UnmarshalText(v)
	}
	return fmt.Errorf("scan event: unsupported type %T", src)
}

// DrawEvent picks the epoch's event. phase in [-1, 1] shifts weight from
// recession toward boom as it rises.
func DrawEvent(r *rand.Rand, phase float64) Event {
	weights := make([]float64, eventCount)
	total := 0.0
	for e := Event(0); e < eventCount; e++ {
		w := eventProfiles[e].Weight
		switch e {
		case EventBoom:
			w *= 1 + 0.6*phase
		case EventRecession:
			w *= 1 - 0.6*phase
		}
		weights[e] = w
		total += w
	}

	roll := r.Float64() * total
	for e := Event(0); e < eventCount; e++ {
		if roll < weights[e] {
			return e
		}
		roll -= weights[e]
	}
	return EventNormal
}
