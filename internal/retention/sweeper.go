// Package retention runs the periodic maintenance sweeps of the chat store.
package retention

import (
	"context"
	"log"
	"sync"
	"time"

	"chatroom-service/internal/observability"
)

// MessagePurger tombstones messages older than a cutoff.
type MessagePurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionPurger deletes expired sessions.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Job is one sweep. A job with a non-positive Interval is skipped.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

// MessageRetentionJob tombstones messages older than months before now.
func MessageRetentionJob(purger MessagePurger, months int, interval time.Duration, now func() time.Time) Job {
	return Job{
		Name:     "message_retention",
		Interval: interval,
		Run: func(ctx context.Context) (int64, error) {
			return purger.PurgeOlderThan(ctx, now().AddDate(0, -months, 0))
		},
	}
}

// SessionExpiryJob removes expired sessions. Validation already ignores them, so this only reclaims rows.
func SessionExpiryJob(purger SessionPurger, interval time.Duration) Job {
	return Job{
		Name:     "session_expiry",
		Interval: interval,
		Run:      purger.PurgeExpired,
	}
}

// Sweeper runs every job once immediately and then on its interval.
type Sweeper struct {
	jobs []Job
	wg   sync.WaitGroup
}

func NewSweeper(jobs ...Job) *Sweeper {
	return &Sweeper{jobs: jobs}
}

// Start launches the job loops. They stop when ctx is cancelled; Wait blocks until they have.
func (s *Sweeper) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			log.Printf("sweep disabled job=%s", job.Name)
			continue
		}
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
}

func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context, job Job) {
	RunOnce(ctx, job)
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RunOnce(ctx, job)
		}
	}
}

// RunOnce executes job and records how many rows it touched.
func RunOnce(ctx context.Context, job Job) int64 {
	n, err := job.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("sweep failed job=%s: %v", job.Name, err)
		}
		return 0
	}
	observability.AddSweepRows(job.Name, n)
	if n > 0 {
		log.Printf("sweep done job=%s rows=%d", job.Name, n)
	}
	return n
}
