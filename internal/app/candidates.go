package app

import (
	"sync"
	"time"

	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

type bucket struct {
	mu       sync.Mutex
	records  []domain.CandidateRecord
	complete bool
}

// CandidateQueue buffers candidates per (SessionID, producer role) until
// drained. Records are never reordered or dropped except by Drain or Purge.
type CandidateQueue struct {
	mu      sync.Mutex
	buckets map[domain.SessionKey]*bucket
	now     func() time.Time
}

func NewCandidateQueue(now func() time.Time) *CandidateQueue {
	if now == nil {
		now = time.Now
	}
	return &CandidateQueue{
		buckets: make(map[domain.SessionKey]*bucket),
		now:     now,
	}
}

func (q *CandidateQueue) bucket(key domain.SessionKey, create bool) *bucket {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.buckets[key]
	if !ok && create {
		b = &bucket{}
		q.buckets[key] = b
	}
	return b
}

// Enqueue appends c to the producer's bucket. An end-of-candidates marker
// only flips the bucket's gathering-complete flag.
func (q *CandidateQueue) Enqueue(key domain.SessionKey, c domain.ICECandidate) {
	b := q.bucket(key, true)
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.EndOfCandidates() {
		b.complete = true
		log.Debug().Str("module", "app.candidates").Str("sid", key.String()).Msg("gathering complete")
		return
	}
	b.records = append(b.records, domain.CandidateRecord{
		SessionID:  key.ID,
		Role:       key.Role,
		ICE:        c,
		EnqueuedAt: q.now().UTC(),
	})
}

// Drain removes and returns everything buffered, oldest first.
// An empty bucket yields an empty, non-nil slice.
func (q *CandidateQueue) Drain(key domain.SessionKey) []domain.CandidateRecord {
	b := q.bucket(key, false)
	if b == nil {
		return []domain.CandidateRecord{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.records
	b.records = nil
	if out == nil {
		out = []domain.CandidateRecord{}
	}
	return out
}

func (q *CandidateQueue) IsGatheringComplete(key domain.SessionKey) bool {
	b := q.bucket(key, false)
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.complete
}

func (q *CandidateQueue) Len(key domain.SessionKey) int {
	b := q.bucket(key, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Requeue puts undelivered records back at the head of the bucket.
func (q *CandidateQueue) Requeue(key domain.SessionKey, recs []domain.CandidateRecord) {
	if len(recs) == 0 {
		return
	}
	b := q.bucket(key, true)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(append(make([]domain.CandidateRecord, 0, len(recs)+len(b.records)), recs...), b.records...)
}

// Purge drops the bucket together with its gathering flag.
func (q *CandidateQueue) Purge(key domain.SessionKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.buckets, key)
}
