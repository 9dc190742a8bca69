package app

import "github.com/dkeye/rtcsignal/internal/domain"

// BackpressureAction tells a push channel what to do when a subscriber
// cannot keep up with candidate batches.
type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	// Requeue keeps the batch in the queue for the next delivery.
	Requeue
	// Disconnect drops the subscriber; its batch is requeued so a poll or a
	// reconnect still sees it.
	Disconnect
)

type Policy interface {
	OnBackPressure(bucket domain.SessionKey, misses int) BackpressureAction
}

// SimplePolicy requeues a few times, then disconnects the subscriber.
type SimplePolicy struct {
	MaxMisses int
}

func (p SimplePolicy) OnBackPressure(_ domain.SessionKey, misses int) BackpressureAction {
	limit := p.MaxMisses
	if limit <= 0 {
		limit = 3
	}
	if misses >= limit {
		return Disconnect
	}
	return Requeue
}
