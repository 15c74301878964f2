package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds calls to the provider: at most rpm requests in any sliding
// one-minute window and at most maxConcurrent requests in flight.
// A zero value for either bound disables it.
type Limiter struct {
	rpm    int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	stamps []time.Time

	sem *semaphore.Weighted
}

func NewLimiter(rpm int, maxConcurrent int64) *Limiter {
	l := &Limiter{rpm: rpm, window: time.Minute, now: time.Now}
	if maxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return l
}

// Acquire blocks until a request may be sent. The returned func must be called
// once the request is done.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if err := l.waitWindow(ctx); err != nil {
		if l.sem != nil {
			l.sem.Release(1)
		}
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if l.sem != nil {
				l.sem.Release(1)
			}
		})
	}, nil
}

func (l *Limiter) waitWindow(ctx context.Context) error {
	if l.rpm <= 0 {
		return nil
	}
	for {
		l.mu.Lock()
		now := l.now()
		cutoff := now.Add(-l.window)
		i := 0
		for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
			i++
		}
		l.stamps = l.stamps[i:]
		if len(l.stamps) < l.rpm {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
