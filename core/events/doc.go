// Package events defines the control related events emitted on the event bus.
//
// Available event types:
//   - SetpointEvent: setpoint computed by a control tick
//   - AckEvent: acknowledgement sent to the event issuer
//   - ScheduleChangeEvent: winning event of a field changed
//   - ProgramEvent: program event list accepted or removed
package events
