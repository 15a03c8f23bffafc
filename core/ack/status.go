package ack

import (
	"fmt"
	"strings"
)

// Status is the acknowledgement status sent back to the event issuer.
type Status uint8

const (
	EventReceived   Status = 1
	EventStarted    Status = 2
	EventCompleted  Status = 3
	EventCancelled  Status = 6
	EventSuperseded Status = 7
)

func (s Status) String() string {
	switch s {
	case EventReceived:
		return "received"
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventCancelled:
		return "cancelled"
	case EventSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus converts a status name into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{EventReceived, EventStarted, EventCompleted, EventCancelled, EventSuperseded} {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown ack status %q", s)
}
