package uploader

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/listing-uploader/config"
)

// Pause is one planned wait between products.
type Pause struct {
	Delay time.Duration
	Batch bool
}

// Pacer plans the waits between products: a random delay within
// [MinDelay, MaxDelay], plus BatchPause after every BatchSize products,
// never shorter than what the hourly token bucket demands.
type Pacer struct {
	min        time.Duration
	max        time.Duration
	batchSize  int
	batchPause time.Duration
	limiter    *rate.Limiter

	done int

	now   func() time.Time
	randN func(n int64) int64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer builds a pacer from the pacing configuration.
func NewPacer(p config.Pacing) *Pacer {
	pc := &Pacer{
		min:        p.MinDelay,
		max:        p.MaxDelay,
		batchSize:  p.BatchSize,
		batchPause: p.BatchPause,
		now:        time.Now,
		randN:      rand.Int64N,
		sleep:      sleepContext,
	}
	if p.MaxPerHour > 0 {
		burst := p.BatchSize
		if burst <= 0 {
			burst = 1
		}
		pc.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(p.MaxPerHour)), burst)
	}
	return pc
}

// Next records a finished product and returns the wait before the next one.
func (p *Pacer) Next() Pause {
	p.done++
	pause := Pause{Delay: p.jitter()}
	if p.batchSize > 0 && p.done%p.batchSize == 0 {
		pause.Batch = true
		pause.Delay += p.batchPause
	}
	if p.limiter != nil {
		now := p.now()
		if wait := p.limiter.ReserveN(now, 1).DelayFrom(now); wait > pause.Delay {
			pause.Delay = wait
		}
	}
	return pause
}

// Wait plans the next pause and sleeps through it.
func (p *Pacer) Wait(ctx context.Context) (Pause, error) {
	pause := p.Next()
	return pause, p.sleep(ctx, pause.Delay)
}

// Done returns how many products the pacer has seen.
func (p *Pacer) Done() int {
	return p.done
}

func (p *Pacer) jitter() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	return p.min + time.Duration(p.randN(int64(p.max-p.min)+1))
}

// backoff returns the wait before retry number attempt (1-based): base
// doubled per attempt and capped at max.
func backoff(r config.Retry, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := r.Backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := r.BackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
