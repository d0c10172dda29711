// Package spike detects bursts of on-chain activity around a mint. A token
// that "pops" repeatedly at a steady cadence is being traded; one that goes
// quiet is dead.
package spike

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/membot-trading/membot/internal/solana"
)

// ErrNoPop means no activity arrived within the pop timeout.
var ErrNoPop = errors.New("spike: no activity before timeout")

// Detection algorithms. Gap chains consecutive pops with bounded spacing;
// bucket counts time slices that saw at least one pop.
const (
	AlgoGap    = "gap"
	AlgoBucket = "bucket"
)

// LogBatch is one observed burst of log lines for a mint.
type LogBatch struct {
	At   time.Time
	Logs []string
}

// Subscriber delivers activity batches for a mint. The channel closes when
// the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, mint solana.Pubkey) (<-chan LogBatch, error)
}

// Config tunes spike detection.
type Config struct {
	Algo        string        `yaml:"algo"`         // "gap" or "bucket"
	MinGap      time.Duration `yaml:"min_gap"`      // gaps shorter than this restart the chain
	MaxGap      time.Duration `yaml:"max_gap"`      // gaps longer than this restart the chain
	Required    int           `yaml:"required"`     // chained pops (gap) or qualified buckets (bucket)
	Window      time.Duration `yaml:"window"`       // overall detection deadline; older events are pruned
	Bucket      time.Duration `yaml:"bucket"`       // bucket width
	EarlyCount  int           `yaml:"early_count"`  // total pops that trigger early in bucket mode
	EarlyWindow time.Duration `yaml:"early_window"` // early trigger only fires this soon after the first pop
	PopTimeout  time.Duration `yaml:"pop_timeout"`  // max wait for the next pop
}

func DefaultConfig() Config {
	return Config{
		Algo:        AlgoGap,
		MinGap:      800 * time.Millisecond,
		MaxGap:      6 * time.Second,
		Required:    4,
		Window:      time.Minute,
		Bucket:      2 * time.Second,
		EarlyCount:  3,
		EarlyWindow: 12 * time.Second,
		PopTimeout:  6 * time.Second,
	}
}

// Validate rejects an unknown algorithm name.
func (c Config) Validate() error {
	switch c.Algo {
	case "", AlgoGap, AlgoBucket:
		return nil
	}
	return fmt.Errorf("spike: unknown algo %q", c.Algo)
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Algo == "" {
		c.Algo = d.Algo
	}
	if c.MinGap <= 0 {
		c.MinGap = d.MinGap
	}
	if c.MaxGap <= 0 {
		c.MaxGap = d.MaxGap
	}
	if c.Required <= 0 {
		c.Required = d.Required
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Bucket <= 0 {
		c.Bucket = d.Bucket
	}
	if c.EarlyCount <= 0 {
		c.EarlyCount = d.EarlyCount
	}
	if c.EarlyWindow <= 0 {
		c.EarlyWindow = d.EarlyWindow
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = d.PopTimeout
	}
}

// Detector accumulates pop timestamps for a single mint. Not safe for
// concurrent use; each mint gets its own detector.
type Detector struct {
	config Config
	events []time.Time
	chain  int
	lastAt time.Time
	start  time.Time
}

func NewDetector(config Config) *Detector {
	config.applyDefaults()
	return &Detector{config: config}
}

// Observe records one pop and reports whether the spike condition is now
// met. Gap mode wants a chain of Required pops with gaps inside
// [MinGap, MaxGap]; a gap outside that band, too fast or too quiet, makes
// this pop the new chain start. Bucket mode wants Required time slices that
// each saw a pop, consecutive or not, and can also fire early when
// EarlyCount pops land within EarlyWindow of the first one.
func (d *Detector) Observe(at time.Time) bool {
	// Prune the window.
	cutoff := at.Add(-d.config.Window)
	for len(d.events) > 0 && d.events[0].Before(cutoff) {
		d.events = d.events[1:]
	}

	if d.lastAt.IsZero() {
		d.chain = 1
		d.lastAt = at
		d.start = at
		d.events = append(d.events, at)
		return false
	}

	gap := at.Sub(d.lastAt)
	if gap >= d.config.MinGap && gap <= d.config.MaxGap {
		d.chain++
	} else {
		d.chain = 1
	}
	d.lastAt = at
	d.events = append(d.events, at)

	if d.config.Algo == AlgoBucket {
		if d.qualifiedBuckets() >= d.config.Required {
			return true
		}
	} else if d.chain >= d.config.Required {
		return true
	}
	return d.earlyTrigger(at)
}

// qualifiedBuckets counts the distinct bucket-width slices, anchored at the
// oldest retained event, that contain at least one pop.
func (d *Detector) qualifiedBuckets() int {
	if len(d.events) == 0 {
		return 0
	}
	first := d.events[0]
	seen := make(map[int64]struct{}, len(d.events))
	for _, e := range d.events {
		seen[int64(e.Sub(first)/d.config.Bucket)] = struct{}{}
	}
	return len(seen)
}

// earlyTrigger fires when enough pops arrive shortly after observation
// begins, before Required buckets have filled. Only the bucket algorithm
// uses it, and only inside the first EarlyWindow.
func (d *Detector) earlyTrigger(at time.Time) bool {
	if d.config.Algo != AlgoBucket {
		return false
	}
	if at.Sub(d.start) > d.config.EarlyWindow {
		return false
	}
	return len(d.events) >= d.config.EarlyCount
}

// Chain reports the current chained pop count.
func (d *Detector) Chain() int { return d.chain }

// Await subscribes to activity for mint and blocks until a spike is
// detected. It fails with ErrNoPop when the token goes quiet for longer
// than PopTimeout or no spike forms inside Window, or with the context
// error.
func Await(ctx context.Context, config Config, sub Subscriber, mint solana.Pubkey) error {
	config.applyDefaults()

	ch, err := sub.Subscribe(ctx, mint)
	if err != nil {
		return err
	}

	d := NewDetector(config)
	timer := time.NewTimer(config.PopTimeout)
	defer timer.Stop()
	deadline := time.NewTimer(config.Window)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrNoPop
		case <-timer.C:
			return ErrNoPop
		case batch, ok := <-ch:
			if !ok {
				return ErrNoPop
			}
			if d.Observe(batch.At) {
				log.Info().Str("mint", string(mint)).Int("chain", d.Chain()).
					Msg("spike: detected")
				return nil
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(config.PopTimeout)
		}
	}
}

// WaitForNextPop subscribes to activity for mint and reports whether any
// batch at all arrives before PopTimeout. It is a liveness probe, not a
// spike check: one pop is enough.
func WaitForNextPop(ctx context.Context, config Config, sub Subscriber, mint solana.Pubkey) (bool, error) {
	config.applyDefaults()

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := sub.Subscribe(probeCtx, mint)
	if err != nil {
		return false, err
	}

	timer := time.NewTimer(config.PopTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, nil
	case _, ok := <-ch:
		return ok, nil
	}
}

// Prober bundles a subscriber and config behind the liveness question.
type Prober struct {
	Config Config
	Sub    Subscriber
}

func NewProber(config Config, sub Subscriber) *Prober {
	config.applyDefaults()
	return &Prober{Config: config, Sub: sub}
}

// NextPop reports whether mint shows any activity before the pop timeout.
func (p *Prober) NextPop(ctx context.Context, mint solana.Pubkey) (bool, error) {
	return WaitForNextPop(ctx, p.Config, p.Sub, mint)
}
