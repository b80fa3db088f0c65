package domain

import "time"

// Dispatch records one attempt to notify the automation backend
type Dispatch struct {
	ID         string
	IssueKey   string
	Column     Column
	Operation  Operation
	Status     DispatchStatus
	StatusCode int
	Response   string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Duration returns how long the attempt took, or zero while in flight
func (d *Dispatch) Duration() time.Duration {
	if d.FinishedAt == nil {
		return 0
	}
	return d.FinishedAt.Sub(d.StartedAt)
}
