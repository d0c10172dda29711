// Command membot watches for freshly launched tokens, snipes entries through
// the Jupiter aggregator and manages exits with either a timed sell schedule
// or a market-cap ladder.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/membot-trading/membot/internal/analytics"
	"github.com/membot-trading/membot/internal/config"
	"github.com/membot-trading/membot/internal/dedup"
	"github.com/membot-trading/membot/internal/janitor"
	"github.com/membot-trading/membot/internal/jupiter"
	"github.com/membot-trading/membot/internal/ratelimit"
	"github.com/membot-trading/membot/internal/sniper"
	"github.com/membot-trading/membot/internal/solana"
	"github.com/membot-trading/membot/internal/spike"
	"github.com/membot-trading/membot/internal/stairs"
	"github.com/membot-trading/membot/internal/status"
	"github.com/membot-trading/membot/internal/watcher"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		dryRun     = flag.Bool("dry-run", false, "simulate trades against a stub wallet")
		mode       = flag.String("mode", "", "override exit mode (classic|stairs)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if *dryRun {
		cfg.DryRun = true
		err = cfg.Validate()
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err == nil {
			err = cfg.Validate()
		}
	}
	setupLogging(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("main: bad configuration")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("main: exited with error")
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	defer gateway.Close()

	jup := jupiter.NewClient(cfg.Jupiter)
	oracle := jupiter.NewPriceOracle(jup)
	recorder := analytics.NewRecorder()
	jan := janitor.New(cfg.Janitor, gateway)

	watch := watcher.New(cfg.Watcher, gateway, dedup.NewSet())
	snipe := sniper.NewSniper(cfg.Sniper, gateway, jup, oracle, recorder)

	srv := status.NewServer(cfg.StatusAddr)
	srv.Register("watcher", func() any { return watch.Stats() })
	srv.Register("jupiter", func() any { return jup.Stats() })
	srv.Register("janitor", func() any { return jan.Stats() })
	srv.Register("trades", func() any { return recorder.Summary() })
	if live, ok := gateway.(*solana.LiveGateway); ok {
		srv.Register("rpc", func() any { return live.Stats() })
	}

	group, ctx := errgroup.WithContext(ctx)

	exiter, dispatcher := buildExiter(ctx, cfg, gateway, jup, oracle, snipe, recorder, srv, group)
	exiter = withActivityNotes(exiter, jan)

	buyBucket := ratelimit.NewBucket(cfg.Sniper.BuyRate, cfg.Sniper.BuyBurst)
	coordinator := sniper.NewCoordinator(cfg.Sniper, gateway, snipe, exiter, dedup.NewSet(), buyBucket)
	srv.Register("coordinator", func() any { return coordinator.Stats() })

	group.Go(func() error { return watch.Run(ctx) })
	group.Go(func() error { return coordinator.Run(ctx, watch.Out()) })
	group.Go(func() error { return jan.Run(ctx) })
	group.Go(func() error { return srv.Run(ctx) })

	for _, mint := range cfg.ForceMints {
		watch.ForceMint(solana.Pubkey(mint))
	}

	log.Info().Str("mode", cfg.Mode).Bool("dry_run", cfg.DryRun).
		Str("owner", string(gateway.Owner())).Msg("main: started")

	err = group.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	recorder.LogSummary()
	return err
}

func buildGateway(cfg config.Config) (solana.Gateway, error) {
	if cfg.DryRun {
		log.Info().Msg("main: dry run, using stub wallet")
		return solana.NewStubGateway("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"), nil
	}
	signer, err := solana.NewKeySigner(cfg.Wallet.SecretKey, cfg.RPC.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("main: wallet: %w", err)
	}
	return solana.NewLiveGateway(cfg.RPC, signer.Owner(), signer), nil
}

// buildExiter picks the exit engine for the configured mode. The returned
// dispatcher is non-nil only in stairs mode and must be waited on at
// shutdown.
func buildExiter(
	ctx context.Context,
	cfg config.Config,
	gateway solana.Gateway,
	jup *jupiter.Client,
	oracle *jupiter.PriceOracle,
	snipe *sniper.Sniper,
	recorder *analytics.Recorder,
	srv *status.Server,
	group *errgroup.Group,
) (sniper.Exiter, *stairs.Dispatcher) {
	if cfg.Mode == config.ModeClassic {
		queue := sniper.NewSellQueue()
		seller := sniper.NewSeller(cfg.Sniper, gateway, jup, queue, recorder)
		group.Go(func() error { return seller.Run(ctx) })
		return seller, nil
	}

	estimator := stairs.NewEstimator(jup, oracle)
	trader := stairs.NewTrader(cfg.Stairs, gateway, jup, recorder)
	cooldowns := stairs.NewCooldowns()
	subscriber := spike.NewWSSubscriber(cfg.Watcher.WSEndpoint)
	prober := spike.NewProber(cfg.Spike, subscriber)

	factory := func() stairs.Strategy {
		var s stairs.Strategy
		if cfg.Stairs.Strategy == stairs.StrategyBag {
			s = stairs.NewDynamicBag(cfg.Stairs, trader, estimator, prober)
		} else {
			s = stairs.NewMilestoneLadder(cfg.Stairs, trader, estimator)
		}
		// Entry gate: either the market-cap jump watch, or the default
		// wait for an activity spike.
		if cfg.Stairs.Jump.Enabled {
			s = stairs.NewJump(cfg.Stairs, estimator, s, trader)
		} else {
			s = stairs.NewSpikeGate(cfg.Stairs, cfg.Spike, subscriber, s, trader)
		}
		if cfg.Stairs.Reentry.Enabled {
			s = stairs.NewReentry(cfg.Stairs, s, snipe, cooldowns, prober)
		}
		return s
	}

	dispatcher := stairs.NewDispatcher(factory, cooldowns, cfg.Sniper.MaxConcurrent)
	srv.Register("dispatcher", func() any { return dispatcher.Stats() })
	return dispatcher, dispatcher
}

// activityExiter tells the janitor the wallet is busy whenever a position
// opens, so rent sweeps stay out of hot moments.
type activityExiter struct {
	inner sniper.Exiter
	jan   *janitor.Janitor
}

func withActivityNotes(inner sniper.Exiter, jan *janitor.Janitor) sniper.Exiter {
	return &activityExiter{inner: inner, jan: jan}
}

func (a *activityExiter) Exit(ctx context.Context, mint solana.Pubkey, tokens uint64, costLamports uint64) {
	a.jan.NoteActivity()
	a.inner.Exit(ctx, mint, tokens, costLamports)
}
