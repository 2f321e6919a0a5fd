// Package events names the notifications the interaction core publishes and
// the payloads they carry. Every notification is published on the bus topic
// named after the emitting entity's ID.
package events

import (
	"github.com/zeusync/cabintrainer/internal/core/events/bus"
)

const (
	ObjectGrabbed  = "object.grabbed"
	ObjectReleased = "object.released"

	Connected    = "connector.connected"
	Disconnected = "connector.disconnected"

	Attached = "assembly.attached"
	Detached = "assembly.detached"

	BothHeld           = "gate.both_held"
	BothReleased       = "gate.both_released"
	ContactEstablished = "gate.contact_established"
	ContactLost        = "gate.contact_lost"

	ZoneReached = "zone.reached"

	StepChanged       = "steps.step_changed"
	AllStepsCompleted = "steps.completed"
	StepsReset        = "steps.reset"
)

// Hold is carried by ObjectGrabbed and ObjectReleased.
type Hold struct {
	Object  string `json:"object"`
	Holder  string `json:"holder"`
	Holders int    `json:"holders"`
}

// Link is carried by Connected and Disconnected. Partner is the other endpoint.
type Link struct {
	Endpoint string `json:"endpoint"`
	Partner  string `json:"partner"`
}

// Attachment is carried by Attached and Detached.
type Attachment struct {
	Assembly string `json:"assembly"`
	Anchor   string `json:"anchor"`
}

// Gate is carried by the dual-contact notifications.
type Gate struct {
	Object   string `json:"object"`
	Holders  int    `json:"holders"`
	Contact  bool   `json:"contact"`
	BothHeld bool   `json:"both_held"`
}

// Zone is carried by ZoneReached.
type Zone struct {
	Zone    string `json:"zone"`
	Visitor string `json:"visitor"`
}

// Step is carried by StepChanged, AllStepsCompleted and StepsReset.
type Step struct {
	Procedure string `json:"procedure"`
	Step      string `json:"step,omitempty"`
	Index     int    `json:"index"`
	Done      bool   `json:"done"`
}

// Publish sends a notification on the topic named after source.
func Publish(b bus.EventBus, kind, source string, payload any) error {
	if b == nil {
		return nil
	}
	return b.PublishToTopic(source, bus.NewEvent(kind, source, payload, nil))
}
