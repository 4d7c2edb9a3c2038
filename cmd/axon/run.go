package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-axon/config"
	"github.com/Swind/go-axon/core"
	axonprom "github.com/Swind/go-axon/observability/prometheus"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the demo producer -> squarer -> summer pipeline",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Value:   100,
				Usage:   "numbers to produce",
			},
			&cli.DurationFlag{
				Name:  "work",
				Value: time.Millisecond,
				Usage: "simulated blocking work per item on the bridged task",
			},
			&cli.DurationFlag{
				Name:  "slowmo",
				Usage: "delay between scheduler passes (overrides the config file)",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "serve Prometheus metrics (overrides the config file)",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "reload scheduler.slowmo when the config file changes",
			},
		},
		Action: RunAction,
	}
}

func RunAction(c *cli.Context) error {
	path := c.String("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	count := c.Int("count")
	if count < 0 {
		return cli.Exit("count must not be negative", 1)
	}
	if c.IsSet("slowmo") {
		cfg.Scheduler.SlowMo = c.Duration("slowmo")
	}
	if c.IsSet("metrics") {
		cfg.Metrics.Enabled = c.Bool("metrics")
	}
	watchPath := ""
	if c.Bool("watch") {
		if path == "" {
			return cli.Exit("--watch needs --config", 1)
		}
		watchPath = path
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions{
		count:     count,
		work:      c.Duration("work"),
		watchPath: watchPath,
		out:       c.App.Writer,
	}
	if err := runPipeline(ctx, cfg, opts); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	return nil
}

type runOptions struct {
	count     int
	work      time.Duration
	watchPath string
	out       io.Writer
}

// runPipeline runs the scheduler, the metrics endpoint and the config
// watcher together. It returns once the pipeline drains or ctx ends.
func runPipeline(ctx context.Context, cfg *config.Config, opts runOptions) error {
	logger := cfg.Logger()

	var (
		metrics core.Metrics
		reg     *prom.Registry
		poller  *axonprom.SnapshotPoller
	)
	if cfg.Metrics.Enabled {
		reg = prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		exporter, err := axonprom.NewMetricsExporter(cfg.Metrics.Namespace, reg, axonprom.ExporterOptions{})
		if err != nil {
			return fmt.Errorf("metrics exporter: %w", err)
		}
		poller, err = axonprom.NewSnapshotPoller(cfg.Metrics.Namespace, reg, cfg.Metrics.PollInterval)
		if err != nil {
			return fmt.Errorf("snapshot poller: %w", err)
		}
		metrics = exporter
	}

	s := core.NewScheduler(cfg.SchedulerConfig(logger, metrics))
	po := core.NewPostOffice(logger)
	p, err := newPipeline(po, cfg, opts.count, opts.work, opts.out)
	if err != nil {
		return err
	}
	for _, t := range p.tasks() {
		if err := t.Activate(s); err != nil {
			return fmt.Errorf("activate %s: %w", t.Name(), err)
		}
		if poller != nil {
			poller.AddTask(t.Name(), t)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The scheduler finishing ends the run for everyone else.
		defer cancel()
		err := s.RunForever(gctx)
		if err != nil && gctx.Err() != nil {
			// Interrupted: stop the remaining tasks so bridged goroutines exit.
			s.Shutdown()
			return nil
		}
		return err
	})

	if poller != nil {
		poller.AddScheduler(s.Name(), s)
		poller.Start(gctx)
		defer poller.Stop()

		server := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics", core.F("addr", cfg.Metrics.Listen))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return server.Shutdown(shutdownCtx)
		})
	}

	if opts.watchPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, opts.watchPath, logger, func(next *config.Config) {
				s.SetSlowMo(next.Scheduler.SlowMo)
				logger.Info("Applied slowmo", core.F("slowmo", next.Scheduler.SlowMo))
			})
		})
	}

	return g.Wait()
}
