package coordinator

import "github.com/kilianp07/dercontrol/core/model"

// ProgramUpdate carries the complete event list of a program. Remove drops
// the program and its events.
type ProgramUpdate struct {
	Program model.Program
	Events  []model.ControlEvent
	Remove  bool
}

// Inputs groups the channels feeding the control loop. Nil channels are
// never selected.
type Inputs struct {
	Devices   <-chan model.DeviceSample
	Sites     <-chan model.SiteSample
	Programs  <-chan ProgramUpdate
	Defaults  <-chan model.DefaultControl
	Gradients <-chan float64
}

// Channels are the producer side of Inputs.
type Channels struct {
	Devices   chan model.DeviceSample
	Sites     chan model.SiteSample
	Programs  chan ProgramUpdate
	Defaults  chan model.DefaultControl
	Gradients chan float64
}

// NewChannels allocates buffered input channels.
func NewChannels(buffer int) Channels {
	return Channels{
		Devices:   make(chan model.DeviceSample, buffer),
		Sites:     make(chan model.SiteSample, buffer),
		Programs:  make(chan ProgramUpdate, buffer),
		Defaults:  make(chan model.DefaultControl, buffer),
		Gradients: make(chan float64, buffer),
	}
}

// Inputs returns the consumer side of the channels.
func (c Channels) Inputs() Inputs {
	return Inputs{
		Devices:   c.Devices,
		Sites:     c.Sites,
		Programs:  c.Programs,
		Defaults:  c.Defaults,
		Gradients: c.Gradients,
	}
}
