// Package scheduler tracks the control events known for each control field
// and resolves the single event that is active at a given instant.
//
// Events are grouped by program. A program refresh replaces all of the
// program's events in every field at once. Resolution picks the active
// event with the lowest program primacy, then the most recent creation
// time, then the lowest mRID.
package scheduler
