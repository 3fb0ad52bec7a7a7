// Command dagrun loads a workflow definition from a JSON or YAML file,
// executes it and prints the run result document.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/smilemakc/dagrun/internal/config"
	"github.com/smilemakc/dagrun/internal/logger"
	"github.com/smilemakc/dagrun/internal/storage"
	"github.com/smilemakc/dagrun/pkg/engine"
	"github.com/smilemakc/dagrun/pkg/models"
	"github.com/smilemakc/dagrun/pkg/observer"
	"github.com/smilemakc/dagrun/pkg/visualization"
)

func main() {
	var (
		file     = flag.String("f", "", "workflow definition file (.json, .yaml)")
		logLevel = flag.String("log-level", "", "log level override (debug, info, warn, error)")
		console  = flag.Bool("console", true, "human-readable log output")
		dsn      = flag.String("dsn", "", "Postgres DSN for run persistence (overrides DAGRUN_DATABASE_DSN)")
		pretty   = flag.Bool("pretty", true, "indent the run result JSON")
		events   = flag.Bool("events", false, "mirror every execution event to the log")
		graph    = flag.Bool("graph", false, "print the workflow graph and exit")
	)
	levelTimeout := flag.Duration("level-timeout", 0, "per-level deadline for this run (overrides the workflow and DAGRUN_LEVEL_TIMEOUT)")
	flag.Parse()

	if *file == "" && flag.NArg() > 0 {
		*file = flag.Arg(0)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: dagrun [-f] workflow.json")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	log := logger.New(logger.Options{Level: cfg.Logging.Level, Console: *console})

	wf, err := loadWorkflow(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("cannot load workflow")
	}
	if *levelTimeout > 0 {
		wf.Config.LevelTimeoutSeconds = levelTimeout.Seconds()
	} else if wf.Config.LevelTimeoutSeconds <= 0 {
		wf.Config.LevelTimeoutSeconds = cfg.Engine.LevelTimeout.Seconds()
	}

	if *graph {
		rendered, err := visualization.RenderASCII(wf, &visualization.RenderOptions{ShowConfig: true})
		if err != nil {
			log.Fatal().Err(err).Msg("cannot render workflow")
		}
		fmt.Print(rendered)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &engine.Options{
		Logger:     &log,
		MaxWorkers: cfg.Engine.MaxWorkers,
	}
	if *events {
		observers := observer.NewManager(observer.WithLogger(log))
		if err := observers.Register(observer.NewLoggerObserver(log)); err != nil {
			log.Fatal().Err(err).Msg("observer setup failed")
		}
		opts.Notifier = observers
	}
	runner := engine.NewRunner(opts)

	result, err := runner.Execute(ctx, wf)
	if err != nil {
		log.Fatal().Err(err).Msg("workflow rejected")
	}

	if cfg.Database.DSN != "" {
		if err := persist(ctx, cfg, result); err != nil {
			log.Error().Err(err).Msg("persisting run failed")
		}
	}

	printResult(result, *pretty)
	if result.Status != models.RunCompleted {
		os.Exit(1)
	}
}

func loadWorkflow(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
		data, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("converting YAML document: %w", err)
		}
	case ".json":
	default:
		return nil, errors.New("unsupported file extension (want .json, .yaml or .yml)")
	}

	var wf models.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}
	return &wf, nil
}

func persist(ctx context.Context, cfg *config.Config, result *models.RunResult) error {
	db := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		Debug:           cfg.Database.Debug,
	})
	defer db.Close()

	store := storage.NewBunStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	return store.SaveRun(ctx, result)
}

func printResult(result *models.RunResult, pretty bool) {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "encoding result: %v\n", err)
	}
}
