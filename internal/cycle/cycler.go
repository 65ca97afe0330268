// Package cycle steps through a match list for display, wrapping from the
// last match back to the first.
package cycle

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/timeutil"
)

// Step is one stop of the cycle: the match to move the model to and how long
// the presentation layer should take to get there and stay.
type Step struct {
	Ordinal int // position within the match list
	Match   match.Match
	At      time.Time
	Animate time.Duration
	Dwell   time.Duration
}

// Cycler walks a MatchList by index. It is safe for concurrent use.
type Cycler struct {
	mu      sync.Mutex
	matches match.MatchList
	current int // -1 until the first Next

	reset chan struct{} // signalled by Reset, capacity 1
}

// New returns a Cycler positioned before the first match.
func New(matches match.MatchList) *Cycler {
	return &Cycler{matches: matches, current: -1, reset: make(chan struct{}, 1)}
}

// Reset swaps in a new match list and rewinds. A running Run moves to the
// first new match straight away.
func (c *Cycler) Reset(matches match.MatchList) {
	c.mu.Lock()
	c.matches = matches
	c.current = -1
	c.mu.Unlock()

	select {
	case c.reset <- struct{}{}:
	default:
	}
}

// Len returns the number of matches being cycled.
func (c *Cycler) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.matches)
}

// Next advances to the following match, wrapping to the first after the
// last. The first call returns ordinal 0. ok is false for an empty list.
func (c *Cycler) Next() (ordinal int, m match.Match, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.matches) == 0 {
		return -1, match.Match{}, false
	}
	c.current++
	if c.current >= len(c.matches) {
		c.current = 0
	}
	return c.current, c.matches[c.current], true
}

// Current returns the match most recently returned by Next.
func (c *Cycler) Current() (ordinal int, m match.Match, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current < 0 || c.current >= len(c.matches) {
		return -1, match.Match{}, false
	}
	return c.current, c.matches[c.current], true
}

// Run calls onStep for the next match, waits animate+dwell on clock, and
// repeats until ctx is done, when it returns ctx.Err(). While the list is
// empty it idles until Reset supplies matches.
func (c *Cycler) Run(ctx context.Context, clock timeutil.Clock, animate, dwell time.Duration, onStep func(Step)) error {
	for {
		ordinal, m, ok := c.Next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.reset:
			}
			continue
		}
		onStep(Step{Ordinal: ordinal, Match: m, At: clock.Now(), Animate: animate, Dwell: dwell})

		timer := clock.NewTimer(animate + dwell)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.reset:
			timer.Stop()
		case <-timer.C():
		}
	}
}
