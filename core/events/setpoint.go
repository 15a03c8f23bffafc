package events

import (
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

// SetpointEvent is published after every control tick.
type SetpointEvent struct {
	Time         time.Time
	Limit        model.InverterControlLimit
	Constrainers map[model.ControlField][]model.LimitSource
	Applied      bool
}

// ScheduleChangeEvent is published when the winning event of a field changes.
// Empty MRIDs mean no event.
type ScheduleChangeEvent struct {
	Field        model.ControlField
	PreviousMRID string
	MRID         string
	Time         time.Time
}

// ProgramEvent is published when a program event list is ingested or removed.
type ProgramEvent struct {
	ProgramID string
	Accepted  int
	Rejected  int
	Removed   bool
}
