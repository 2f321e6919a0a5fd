package steps

import (
	"errors"

	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/events/bus"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
)

// Procedure names.
const (
	Seatbelt  = "seatbelt"
	Lifevest  = "lifevest"
	Airmask   = "airmask"
	Airsack   = "airsack"
	ExitDoors = "exit_doors"
)

// NewSeatbelt tracks grabbing each buckle and connecting them. Connecting
// lights every step; disconnecting resets all of them. first and second name
// the buckles, which are both the object and the connector endpoint.
func NewSeatbelt(b bus.EventBus, logger log.Log, first, second string) (*Tracker, error) {
	t := NewTracker(Seatbelt, []string{"grab first buckle", "grab second buckle", "connect buckles"}, b, logger)
	connected := false
	err := errors.Join(
		t.On(events.ObjectGrabbed, func(topic string, _ bus.Event) {
			if connected {
				return
			}
			if topic == first {
				t.Set(0, true)
			} else {
				t.Set(1, true)
			}
		}, first, second),
		t.On(events.Connected, func(string, bus.Event) {
			connected = true
			t.SetThrough(2)
		}, first, second),
		t.On(events.Disconnected, func(string, bus.Event) {
			connected = false
			t.Reset()
		}, first, second),
	)
	return t, err
}

// NewLifevest tracks attaching the vest and connecting each child strap.
// Detaching the vest resets everything.
func NewLifevest(b bus.EventBus, logger log.Log, vest string, children []string) (*Tracker, error) {
	names := []string{"attach vest"}
	index := make(map[string]int, len(children))
	for i, c := range children {
		names = append(names, "connect "+c)
		index[c] = i + 1
	}
	t := NewTracker(Lifevest, names, b, logger)
	err := errors.Join(
		t.On(events.Attached, func(string, bus.Event) { t.Set(0, true) }, vest),
		t.On(events.Detached, func(string, bus.Event) { t.Reset() }, vest),
		t.On(events.Connected, func(topic string, _ bus.Event) { t.Set(index[topic], true) }, children...),
		t.On(events.Disconnected, func(topic string, _ bus.Event) { t.Set(index[topic], false) }, children...),
	)
	return t, err
}

// NewAirmask tracks grabbing the mask and putting it on. A grab only counts
// while the mask is not attached.
func NewAirmask(b bus.EventBus, logger log.Log, mask string) (*Tracker, error) {
	t := NewTracker(Airmask, []string{"grab mask", "attach mask"}, b, logger)
	attached := false
	err := errors.Join(
		t.On(events.ObjectGrabbed, func(string, bus.Event) {
			if !attached {
				t.Set(0, true)
			}
		}, mask),
		t.On(events.Attached, func(string, bus.Event) {
			attached = true
			t.SetThrough(1)
		}, mask),
		t.On(events.Detached, func(string, bus.Event) {
			attached = false
			t.Reset()
		}, mask),
	)
	return t, err
}

// NewAirsack tracks the two-handed hold and the contact made with both hands.
// Releasing both hands resets both steps; losing contact clears the second.
func NewAirsack(b bus.EventBus, logger log.Log, gate string) (*Tracker, error) {
	t := NewTracker(Airsack, []string{"hold with both hands", "contact with both hands"}, b, logger)
	err := errors.Join(
		t.On(events.BothHeld, func(string, bus.Event) { t.Set(0, true) }, gate),
		t.On(events.BothReleased, func(string, bus.Event) { t.Reset() }, gate),
		t.On(events.ContactEstablished, func(string, bus.Event) { t.Set(1, true) }, gate),
		t.On(events.ContactLost, func(string, bus.Event) { t.Set(1, false) }, gate),
	)
	return t, err
}

// NewExitDoors tracks reaching each checkpoint. Steps stay lit; reaching the
// last checkpoint lights every earlier one too.
func NewExitDoors(b bus.EventBus, logger log.Log, zones []string) (*Tracker, error) {
	names := make([]string, len(zones))
	index := make(map[string]int, len(zones))
	for i, z := range zones {
		names[i] = "reach " + z
		index[z] = i
	}
	t := NewTracker(ExitDoors, names, b, logger)
	err := t.On(events.ZoneReached, func(topic string, _ bus.Event) {
		i := index[topic]
		if i == len(zones)-1 {
			t.SetThrough(i)
			return
		}
		t.Set(i, true)
	}, zones...)
	return t, err
}
