package oracle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Gate is the L2 sequencer liveness check run before any feed read. With an
// uptime feed configured it reads (answer, startedAt): the sequencer counts as
// up only when answer == 0, startedAt != 0, and at least the grace period has
// passed since startedAt (recovery flapping protection). Without a feed the
// guardian-held manual flag decides.
type Gate struct {
	feed  *Feed // nil when the deployment has no uptime feed
	grace time.Duration
	down  atomic.Bool

	now func() time.Time
}

func NewGate(feed *Feed, grace time.Duration) *Gate {
	return &Gate{feed: feed, grace: grace, now: time.Now}
}

// SetDown flips the manual flag. Guardian-only surface.
func (g *Gate) SetDown(down bool) { g.down.Store(down) }

// Down reports the manual flag.
func (g *Gate) Down() bool { return g.down.Load() }

// Check fails with ErrSequencerDown when the chain must not be trusted yet.
// The manual flag wins over the feed: a guardian pause takes effect
// immediately regardless of what the uptime feed reports.
func (g *Gate) Check(ctx context.Context) error {
	if g == nil {
		return nil
	}
	if g.down.Load() {
		return fmt.Errorf("manual flag set: %w", ErrSequencerDown)
	}
	if g.feed == nil {
		return nil
	}

	round, err := g.feed.LatestRoundData(ctx)
	if err != nil {
		return fmt.Errorf("uptime feed: %w", err)
	}
	if round.Answer.Sign() != 0 || round.StartedAt.Sign() == 0 {
		return fmt.Errorf("uptime answer=%s startedAt=%s: %w",
			round.Answer, round.StartedAt, ErrSequencerDown)
	}
	upSince := time.Unix(round.StartedAt.Int64(), 0)
	if g.now().Sub(upSince) < g.grace {
		return fmt.Errorf("up for %s, grace %s: %w",
			g.now().Sub(upSince).Truncate(time.Second), g.grace, ErrSequencerDown)
	}
	return nil
}
