// Package limiter enforces per-model token rate, daily spend and concurrent call limits.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lessonforge/pkg/config"
)

var (
	// ErrRateLimit is returned when the token bucket is empty.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrBudgetExceeded is returned when the daily budget is spent.
	ErrBudgetExceeded = errors.New("daily budget exceeded")
	// ErrSlotLimit is returned when every concurrent call slot is taken.
	ErrSlotLimit = errors.New("concurrent call limit exceeded")
)

// pollInterval is how often a blocked Acquire re-checks the bucket.
const pollInterval = 250 * time.Millisecond

// Limiter manages limits across models.
type Limiter struct {
	models map[string]*ModelLimiter
	mu     sync.RWMutex
	now    func() time.Time
}

// ModelLimiter enforces limits for one model.
type ModelLimiter struct {
	mu                 sync.Mutex
	name               string
	maxTokensPerMinute int
	maxBudgetPerDayUSD float64 // 0 means unlimited
	maxSlots           int
	currentTokens      int
	currentBudgetUSD   float64
	currentSlots       int
	lastRefill         time.Time
	day                int
	now                func() time.Time
}

// NewLimiter creates a limiter for the given model limits.
func NewLimiter(limits map[string]config.ModelLimits) *Limiter {
	l := &Limiter{models: make(map[string]*ModelLimiter), now: time.Now}
	for name, lim := range limits {
		l.Register(name, lim)
	}
	return l
}

// Register adds a model; registering an existing model is a no-op.
func (l *Limiter) Register(model string, lim config.ModelLimits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.models[model]; ok {
		return
	}
	now := l.now()
	l.models[model] = &ModelLimiter{
		name:               model,
		maxTokensPerMinute: lim.TokensPerMinute,
		maxBudgetPerDayUSD: lim.DailyBudgetUSD,
		maxSlots:           lim.MaxConcurrency,
		currentTokens:      lim.TokensPerMinute,
		lastRefill:         now,
		day:                now.YearDay(),
		now:                l.now,
	}
}

func (l *Limiter) model(name string) (*ModelLimiter, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ml, ok := l.models[name]
	if !ok {
		return nil, fmt.Errorf("model %s not configured", name)
	}
	return ml, nil
}

// Reserve takes tokens from the model's bucket without blocking.
func (l *Limiter) Reserve(model string, tokens int) error {
	ml, err := l.model(model)
	if err != nil {
		return err
	}
	return ml.Reserve(tokens)
}

// ReserveBudget records spend against the model's daily budget.
func (l *Limiter) ReserveBudget(model string, costUSD float64) error {
	ml, err := l.model(model)
	if err != nil {
		return err
	}
	return ml.ReserveBudget(costUSD)
}

// Acquire blocks until a call slot and the requested tokens are available.
// The returned release function frees the slot.
func (l *Limiter) Acquire(ctx context.Context, model string, tokens int) (func(), error) {
	ml, err := l.model(model)
	if err != nil {
		return nil, err
	}
	for {
		err := ml.tryAcquire(tokens)
		if err == nil {
			var once sync.Once
			return func() { once.Do(ml.releaseSlot) }, nil
		}
		if errors.Is(err, ErrBudgetExceeded) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w (%w)", model, ctx.Err(), err)
		case <-time.After(pollInterval):
		}
	}
}

// GetStatus returns available tokens, spend so far and busy slots.
func (l *Limiter) GetStatus(model string) (tokens int, budget float64, slots int, err error) {
	ml, err := l.model(model)
	if err != nil {
		return 0, 0, 0, err
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.refill()
	return ml.currentTokens, ml.currentBudgetUSD, ml.currentSlots, nil
}

// ResetDaily resets spend for every model.
func (l *Limiter) ResetDaily() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, ml := range l.models {
		ml.mu.Lock()
		ml.currentBudgetUSD = 0
		ml.mu.Unlock()
	}
}

func (ml *ModelLimiter) Reserve(tokens int) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.refill()
	return ml.takeTokens(tokens)
}

func (ml *ModelLimiter) ReserveBudget(costUSD float64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.refill()
	if ml.maxBudgetPerDayUSD > 0 && ml.currentBudgetUSD+costUSD > ml.maxBudgetPerDayUSD {
		return ErrBudgetExceeded
	}
	ml.currentBudgetUSD += costUSD
	return nil
}

func (ml *ModelLimiter) tryAcquire(tokens int) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.refill()

	if ml.maxBudgetPerDayUSD > 0 && ml.currentBudgetUSD >= ml.maxBudgetPerDayUSD {
		return ErrBudgetExceeded
	}
	if ml.maxSlots > 0 && ml.currentSlots >= ml.maxSlots {
		return ErrSlotLimit
	}
	if err := ml.takeTokens(tokens); err != nil {
		return err
	}
	ml.currentSlots++
	return nil
}

// takeTokens requires ml.mu. Requests larger than the bucket are clamped so they can eventually proceed.
func (ml *ModelLimiter) takeTokens(tokens int) error {
	if ml.maxTokensPerMinute <= 0 {
		return nil
	}
	if tokens > ml.maxTokensPerMinute {
		tokens = ml.maxTokensPerMinute
	}
	if ml.currentTokens < tokens {
		return ErrRateLimit
	}
	ml.currentTokens -= tokens
	return nil
}

func (ml *ModelLimiter) releaseSlot() {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.currentSlots > 0 {
		ml.currentSlots--
	}
}

// refill requires ml.mu. The bucket refills fully once per elapsed minute and spend resets each day.
func (ml *ModelLimiter) refill() {
	now := ml.now()
	if day := now.YearDay(); day != ml.day {
		ml.day = day
		ml.currentBudgetUSD = 0
	}
	elapsed := now.Sub(ml.lastRefill)
	if elapsed < time.Minute {
		return
	}
	minutes := int(elapsed / time.Minute)
	ml.currentTokens += minutes * ml.maxTokensPerMinute
	if ml.currentTokens > ml.maxTokensPerMinute {
		ml.currentTokens = ml.maxTokensPerMinute
	}
	ml.lastRefill = ml.lastRefill.Add(time.Duration(minutes) * time.Minute)
}
