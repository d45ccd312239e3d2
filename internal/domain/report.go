package domain

import "time"

// CycleReport contains everything produced by one engine cycle.
type CycleReport struct {
	Partition     string
	StartedAt     time.Time
	Duration      time.Duration
	Markets       int
	PricesUpdated int
	PriceFailures int
	Opened        []Position
	Closed        []Position
	Pending       int
	Warnings      []string
	TopSignal     *Market
	Crisis        Crisis
	Snapshot      Snapshot
}

// ClosedBy counts closes in the cycle with the given reason.
func (r CycleReport) ClosedBy(reason CloseReason) int {
	n := 0
	for _, p := range r.Closed {
		if p.CloseReason == reason {
			n++
		}
	}
	return n
}
