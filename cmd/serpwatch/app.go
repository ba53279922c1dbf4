package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/serpwatch/internal/api"
	"github.com/shehryarbajwa/serpwatch/internal/browser"
	"github.com/shehryarbajwa/serpwatch/internal/challenge"
	"github.com/shehryarbajwa/serpwatch/internal/config"
	"github.com/shehryarbajwa/serpwatch/internal/ledger"
	"github.com/shehryarbajwa/serpwatch/internal/logging"
	"github.com/shehryarbajwa/serpwatch/internal/orchestrator"
	"github.com/shehryarbajwa/serpwatch/internal/pacing"
	"github.com/shehryarbajwa/serpwatch/internal/proxy"
	"github.com/shehryarbajwa/serpwatch/internal/ratelimit"
	"github.com/shehryarbajwa/serpwatch/internal/report"
	"github.com/shehryarbajwa/serpwatch/internal/search"
	"github.com/shehryarbajwa/serpwatch/internal/session"
	"github.com/shehryarbajwa/serpwatch/internal/tasks"
	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

// execute wires every component and runs the task list, once or in cycles.
// Errors other than cancellation are startup failures.
func execute(ctx context.Context, cfg *config.Config, cli *CLIConfig) error {
	logger, flush, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer flush()

	taskList, err := loadTasks(cfg, cli.Args, logger)
	if err != nil {
		return err
	}

	launcher, err := newLauncher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := launcher.Close(); err != nil {
			logger.Warn("failed to close browser launcher", zap.Error(err))
		}
	}()

	// Proxy pool
	pool := proxy.NewPool(cfg.Proxy.MaxFailures, proxy.WithLogger(logger))
	loader := proxy.NewLoader(pool, cfg.Proxy.RefreshInterval, logger, proxySources(cfg)...)
	if loader.Configured() {
		if size := loader.Refresh(ctx, true); size == 0 && cfg.Proxy.Required {
			return fmt.Errorf("proxy required but no source produced a valid address: %w", orchestrator.ErrNoProxy)
		}
	}

	limiter := ratelimit.NewLimiter(cfg.Pacing.SearchesPerHour, cfg.Pacing.Burst)
	sessions := session.NewController(launcher, logger)

	detector, err := challenge.NewDetector(cfg.Challenge.Markers, cfg.Challenge.Phrases, cfg.Challenge.URLPatterns, logger)
	if err != nil {
		return &config.Error{Field: "challenge.url_patterns", Err: err}
	}
	protocol := challenge.NewProtocol(detector, sessions, cfg.Challenge.GracePeriod, logger)

	profile, ok := search.LookupProfile(cfg.Search.Profile)
	if !ok {
		logger.Warn("unknown search profile, using default",
			zap.String("profile", cfg.Search.Profile),
			zap.Strings("available", search.ProfileNames()))
	}
	engine := search.NewEngine(profile, search.Options{
		MaxPages:        cfg.MaxPages,
		ResultTimeout:   cfg.Search.ResultTimeout,
		PageTimeout:     cfg.Search.PageTimeout,
		WindowTimeout:   cfg.Search.WindowTimeout,
		Dwell:           cfg.Search.Dwell,
		DwellSteps:      cfg.Search.DwellSteps,
		PaginateRetries: cfg.Search.PaginateRetries,
	}, sessions, protocol, logger)

	jitter := pacing.NewJitter(time.Now().UnixNano())
	opts := orchestrator.Options{
		MaxRetries:     cfg.MaxRetries,
		OpenRetries:    cfg.OpenRetries,
		SessionPerTerm: cfg.SessionPerTerm,
		RequireProxy:   cfg.Proxy.Required,
		Backoff:        pacing.NewBackoff(cfg.Backoff.Base, cfg.Backoff.Max, cfg.Backoff.Jitter, jitter),
		TermPauseMin:   cfg.Pacing.TermPauseMin,
		TermPauseMax:   cfg.Pacing.TermPauseMax,
	}
	options := []orchestrator.Option{
		orchestrator.WithPacer(limiter),
		orchestrator.WithJitter(jitter),
	}
	if loader.Configured() {
		options = append(options,
			orchestrator.WithProxies(pool),
			orchestrator.WithRefresher(loader),
			orchestrator.WithRemover(loader))
	} else if cfg.Proxy.Required {
		return fmt.Errorf("proxy required but none configured: %w", orchestrator.ErrNoProxy)
	}

	var current atomic.Pointer[ledger.Ledger]
	current.Store(ledger.New())

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.StatusAddr != "" {
		handler := api.NewHandler(current.Load, sessions, pool, limiter, logger)
		server := api.NewServer(cfg.StatusAddr, handler, ratelimit.NewLimiter(api.RequestsPerHour, 20))
		g.Go(func() error {
			return server.Run(runCtx)
		})
	}

	g.Go(func() error {
		defer stopServer()

		for cycle := 1; ; cycle++ {
			l := ledger.New()
			current.Store(l)

			orch := orchestrator.New(sessions, engine, l, opts, logger.With(zap.Int("cycle", cycle)), options...)
			runErr := orch.Run(gctx, taskList)

			if err := summarize(l, cli.OutputFile); err != nil {
				logger.Error("failed to write report", zap.Error(err))
			}
			if runErr != nil {
				return runErr
			}

			if cfg.Cycle.RestartInterval <= 0 {
				return nil
			}
			logger.Info("cycle complete, waiting for next cycle",
				zap.Int("cycle", cycle),
				zap.Duration("restart_interval", cfg.Cycle.RestartInterval))
			if err := pacing.Sleep(gctx, cfg.Cycle.RestartInterval); err != nil {
				return err
			}
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", zap.Error(err))
	}
	return err
}

func loadTasks(cfg *config.Config, args []string, logger *zap.Logger) ([]models.SearchTask, error) {
	if len(args) > 0 {
		task, err := tasks.FromArgs(args)
		if err != nil {
			return nil, &config.Error{Field: "args", Err: err}
		}
		return []models.SearchTask{task}, nil
	}

	if cfg.TasksFile == "" {
		return nil, &config.Error{Field: "tasks_file", Err: errors.New("no tasks file and no search arguments given")}
	}

	list, err := tasks.ReadFile(cfg.TasksFile, logger)
	if err != nil {
		return nil, &config.Error{Field: "tasks_file", Err: err}
	}
	return list, nil
}

func proxySources(cfg *config.Config) []proxy.Source {
	var sources []proxy.Source
	if cfg.Proxy.File != "" {
		sources = append(sources, proxy.FileSource{Path: cfg.Proxy.File})
	}
	if cfg.Proxy.APIURL != "" {
		sources = append(sources, proxy.HTTPSource{URL: cfg.Proxy.APIURL})
	}
	return sources
}

func newLauncher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (browser.Launcher, error) {
	runtime := browser.NewRuntime(cfg.Browser.Install)

	if cfg.Browser.Backend != config.BackendDocker {
		return browser.NewPlaywrightLauncher(runtime, cfg.Browser.Headless, cfg.Browser.LaunchTimeout, logger), nil
	}

	launcher, err := browser.NewDockerLauncher(runtime, cfg.Browser.DockerImage, cfg.Browser.LaunchTimeout, logger)
	if err != nil {
		return nil, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := launcher.EnsureImage(setupCtx); err != nil {
		launcher.Close()
		return nil, fmt.Errorf("failed to ensure browser image: %w", err)
	}
	if n, err := launcher.Reap(setupCtx); err != nil {
		logger.Warn("failed to remove stale browser containers", zap.Error(err))
	} else if n > 0 {
		logger.Info("removed stale browser containers", zap.Int("count", n))
	}

	return launcher, nil
}

// summarize prints the grouped ledger and, if path is set, writes it as JSON.
func summarize(l *ledger.Ledger, path string) error {
	groups := l.Groups()
	if err := report.Print(os.Stdout, groups); err != nil {
		return err
	}

	if path == "" {
		return nil
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := report.WriteJSON(file, groups); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
