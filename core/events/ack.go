package events

import "time"

// AckEvent is published for each acknowledgement send attempt.
type AckEvent struct {
	MRID    string
	Status  string
	ReplyTo string
	Err     error
	Time    time.Time
}
