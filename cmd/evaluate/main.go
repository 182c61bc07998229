// Package main is a one-shot command that evaluates every active
// achievement for one user and prints what was unlocked together with the
// user's standardized score.
//
//	evaluate -user 42                         # against DATABASE_URL
//	evaluate -user 42 -fixture testdata.yaml  # against an in-memory store
//	evaluate -seed catalogue.yaml             # upsert definitions, then exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/edumastery/mastery-engine/config"
	"github.com/edumastery/mastery-engine/internal/application/engine"
	"github.com/edumastery/mastery-engine/internal/application/eventhandler"
	"github.com/edumastery/mastery-engine/internal/application/query"
	"github.com/edumastery/mastery-engine/internal/domain/achievement"
	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/internal/infrastructure/messaging"
	"github.com/edumastery/mastery-engine/internal/infrastructure/persistence/memory"
	"github.com/edumastery/mastery-engine/internal/infrastructure/persistence/postgres"
	"github.com/edumastery/mastery-engine/internal/infrastructure/service"
	"github.com/edumastery/mastery-engine/pkg/logger"
)

type options struct {
	userID    string
	fixture   string
	seed      string
	asJSON    bool
	scoreOnly bool
}

func main() {
	var opts options
	flag.StringVar(&opts.userID, "user", "", "user id to evaluate")
	flag.StringVar(&opts.fixture, "fixture", "", "YAML fixture to evaluate against instead of the database")
	flag.StringVar(&opts.seed, "seed", "", "YAML fixture whose definitions are upserted into the database")
	flag.BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	flag.BoolVar(&opts.scoreOnly, "score-only", false, "print the standardized score without evaluating achievements")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// result is the command's output.
type result struct {
	UserID   string                      `json:"user_id"`
	Unlocked []string                    `json:"unlocked"`
	Score    *query.StandardizedScoreDTO `json:"score"`
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.seed != "" && opts.fixture != "" {
		return errors.New("-seed writes to the database and cannot be combined with -fixture")
	}
	if opts.seed == "" && opts.userID == "" {
		return errors.New("-user is required")
	}

	var (
		cfg *config.Config
		err error
	)
	if opts.fixture != "" {
		cfg, err = config.LoadLocal()
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logOpts := logger.DefaultOptions()
	logOpts.Output = os.Stderr
	logOpts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	logOpts.Format = "console"
	log := logger.New(logOpts)
	defer func() { _ = log.Sync() }()

	var (
		reader activity.Reader
		repo   achievement.Repository
	)
	if opts.fixture != "" {
		store, err := memory.LoadFixture(opts.fixture)
		if err != nil {
			return err
		}
		reader, repo = store, store
	} else {
		dbCfg := postgres.DefaultConfig()
		dbCfg.URL = cfg.Database.URL
		dbCfg.MinConns = 0
		conn, err := postgres.NewConnection(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer conn.Close()

		achievements := postgres.NewAchievementRepository(conn.Pool())
		if opts.seed != "" {
			return seed(ctx, opts.seed, achievements, out)
		}
		reader, repo = postgres.NewActivityReader(conn.Pool(), nil, log), achievements
	}

	// Unlock notifications are delivered to the log in-process.
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: log})
	defer bus.Close()
	if err := eventhandler.NewOnAchievementUnlockedHandler(nil, log, eventhandler.DefaultAchievementUnlockedConfig()).Register(bus); err != nil {
		return err
	}

	ids := service.NewIDGenerator()
	eng, err := engine.New(engine.Options{
		WeightsFile:        cfg.Scoring.WeightsFile,
		Location:           cfg.App.Location,
		ParallelEvaluation: cfg.Features.IsEnabled(config.FeatureParallelEvaluation),
	}, engine.Deps{
		Activity:     reader,
		Achievements: repo,
		Notifier:     service.NewNotificationPublisher(bus, ids, log),
		IDs:          ids,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	res := result{UserID: opts.userID, Unlocked: []string{}}
	if !opts.scoreOnly {
		report := eng.Flow.Run(ctx, opts.userID)
		if report.Err != nil {
			return fmt.Errorf("evaluate %s: %w", report.FailedStep, report.Err)
		}
		res.Unlocked = report.Unlocked
	}

	res.Score, err = eng.Scores.Handle(ctx, query.GetStandardizedScoreQuery{UserID: opts.userID, BypassCache: true})
	if err != nil {
		return fmt.Errorf("standardized score: %w", err)
	}

	return printResult(out, res, opts.asJSON)
}

func seed(ctx context.Context, path string, repo *postgres.AchievementRepository, out io.Writer) error {
	store, err := memory.LoadFixture(path)
	if err != nil {
		return err
	}
	defs, err := store.ActiveDefinitions(ctx)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if err := repo.UpsertDefinition(ctx, d); err != nil {
			return fmt.Errorf("seed %s: %w", d.ID, err)
		}
	}
	_, err = fmt.Fprintf(out, "seeded %d definitions\n", len(defs))
	return err
}

func printResult(out io.Writer, res result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if len(res.Unlocked) == 0 {
		fmt.Fprintln(out, "no new achievements")
	}
	for _, name := range res.Unlocked {
		fmt.Fprintf(out, "unlocked: %s\n", name)
	}
	source := "computed"
	if res.Score.Fallback {
		source = "fallback"
	}
	_, err := fmt.Fprintf(out, "standardized score: %d (%s, %d answers)\n", res.Score.Score, source, res.Score.AnswerCount)
	return err
}
