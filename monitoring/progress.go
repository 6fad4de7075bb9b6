package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks how many transfers of a workload are done.
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
	Bytes      uint64    `json:"bytes"`
}

// Start marks n transfers as in flight.
func (b *ProgressBar) Start(n uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += n
}

// Finish moves one in-flight transfer of the given size to finished.
func (b *ProgressBar) Finish(bytes uint64) {
	b.Lock()
	defer b.Unlock()

	if b.InProgress > 0 {
		b.InProgress--
	}

	b.Finished++
	b.Bytes += bytes
}

// Percent returns the finished share of the total.
func (b *ProgressBar) Percent() float64 {
	b.Lock()
	defer b.Unlock()

	if b.Total == 0 {
		return 100
	}

	return 100 * float64(b.Finished) / float64(b.Total)
}
