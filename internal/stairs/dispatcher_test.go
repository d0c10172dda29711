package stairs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// gateStrategy blocks until released so tests can observe in-flight state.
type gateStrategy struct {
	started atomic.Int32
	gate    chan struct{}
	pnl     int64
}

func (g *gateStrategy) Name() string { return "gate" }

func (g *gateStrategy) Run(ctx context.Context, pos Position) (int64, error) {
	g.started.Add(1)
	select {
	case <-g.gate:
	case <-ctx.Done():
	}
	return g.pnl, nil
}

func TestDispatcherDeduplicatesActiveMints(t *testing.T) {
	g := &gateStrategy{gate: make(chan struct{}), pnl: 10}
	d := NewDispatcher(func() Strategy { return g }, NewCooldowns(), 4)
	ctx := context.Background()

	d.Exit(ctx, testMint, 1, 1)
	d.Exit(ctx, testMint, 1, 1) // same mint while the first still runs

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && g.started.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(1), g.started.Load())

	close(g.gate)
	d.Wait()
	assert.Equal(t, int64(1), d.Stats().Dispatched)
	assert.Equal(t, int64(1), d.Stats().Wins)
	assert.Equal(t, int64(10), d.Stats().NetLamports)
}

func TestDispatcherSkipsCooldown(t *testing.T) {
	g := &gateStrategy{gate: make(chan struct{})}
	close(g.gate)
	cooldowns := NewCooldowns()
	cooldowns.Block(testMint, time.Minute)

	d := NewDispatcher(func() Strategy { return g }, cooldowns, 4)
	d.Exit(context.Background(), testMint, 1, 1)
	d.Wait()

	assert.Zero(t, d.Stats().Dispatched)
}

func TestDispatcherReleasesMintAfterRun(t *testing.T) {
	g := &gateStrategy{gate: make(chan struct{}), pnl: -5}
	close(g.gate)
	d := NewDispatcher(func() Strategy { return g }, NewCooldowns(), 4)
	ctx := context.Background()

	d.Exit(ctx, testMint, 1, 1)
	d.Wait()
	d.Exit(ctx, testMint, 1, 1)
	d.Wait()

	assert.Equal(t, int64(2), d.Stats().Dispatched)
	assert.Equal(t, int64(2), d.Stats().Losses)
}
