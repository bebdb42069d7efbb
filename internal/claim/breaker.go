package claim

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable is returned while the breaker keeps calls away from the backend.
var ErrUnavailable = errors.New("claim backend unavailable")

type state int

const (
	closed state = iota
	open
	halfOpen
)

// Breaker opens after threshold consecutive failures and lets one trial
// through once openFor has passed.
type Breaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	threshold        int
	openFor          time.Duration
	nextTryAt        time.Time
	trialInFlight    bool
	now              func() time.Time
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{threshold: threshold, openFor: openFor, now: time.Now}
}

func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		if b.now().After(b.nextTryAt) && !b.trialInFlight {
			b.st = halfOpen
			b.trialInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.trialInFlight {
			b.trialInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = closed
	b.trialInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
		b.trialInFlight = false
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.threshold {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
	}
}

// Guarded short-circuits a Claimer whose backend keeps failing.
type Guarded struct {
	next Claimer
	br   *Breaker
}

func NewGuarded(next Claimer, br *Breaker) *Guarded {
	return &Guarded{next: next, br: br}
}

func (g *Guarded) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if !g.br.TryAcquire() {
		return false, ErrUnavailable
	}
	ok, err := g.next.Claim(ctx, id, ttl)
	if err != nil {
		g.br.OnFailure()
		return false, err
	}
	g.br.OnSuccess()
	return ok, nil
}

func (g *Guarded) Release(ctx context.Context, id string) error {
	return g.next.Release(ctx, id)
}
