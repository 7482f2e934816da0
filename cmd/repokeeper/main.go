package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/alecthomas/hcl/v2"
	"github.com/alecthomas/kong"

	"github.com/block/repokeeper/internal/bootstrap"
	"github.com/block/repokeeper/internal/config"
	"github.com/block/repokeeper/internal/configstore"
	"github.com/block/repokeeper/internal/history"
	"github.com/block/repokeeper/internal/jobs"
	"github.com/block/repokeeper/internal/jobscheduler"
	"github.com/block/repokeeper/internal/logging"
	"github.com/block/repokeeper/internal/metrics"
	"github.com/block/repokeeper/internal/objectstore"
)

// DefaultConfigFile is looked up in the git directory when --config is not given.
const DefaultConfigFile = "repokeeper.hcl"

type GlobalConfig struct {
	LoggingConfig     logging.Config         `hcl:"log,block"`
	MetricsConfig     metrics.Config         `hcl:"metrics,block"`
	HistoryConfig     history.Config         `hcl:"history,block"`
	SchedulerConfig   jobscheduler.Config    `hcl:"scheduler,block"`
	PrefetchConfig    jobs.PrefetchConfig    `hcl:"prefetch,block"`
	CommitGraphConfig jobs.CommitGraphConfig `hcl:"commit-graph,block"`
}

func (g GlobalConfig) JobsConfig() jobs.Config {
	return jobs.Config{Prefetch: g.PrefetchConfig, CommitGraph: g.CommitGraphConfig}
}

type CLI struct {
	Schema bool `help:"Print the configuration file schema." xor:"command"`
	Status bool `help:"Print whether maintenance is enabled, each job's interval and its latest run." xor:"command"`

	Dir    string `short:"C" help:"Run as if started in this directory." default:"." type:"existingdir"`
	Config string `help:"Configuration file path (defaults to repokeeper.hcl in the git directory)." type:"path"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Description("Toggle background maintenance of a git repository."),
		kong.DefaultEnvars(config.EnvarPrefix),
	)

	// Commands
	switch { //nolint:gocritic
	case cli.Schema:
		printSchema(kctx)
		return
	}

	ctx := context.Background()
	repo, err := objectstore.Open(ctx, cli.Dir)
	kctx.FatalIfErrorf(err)

	globalConfig, err := loadConfig(cli, repo)
	kctx.FatalIfErrorf(err)
	logger, ctx := logging.Configure(ctx, globalConfig.LoggingConfig)
	ctx, _ = logging.With(ctx, "repo", repo.Root())

	if globalConfig.HistoryConfig.Path == "" {
		globalConfig.HistoryConfig.Path = filepath.Join(repo.GitDir(), history.DefaultFile)
	}
	runs := history.New(globalConfig.HistoryConfig)
	store := configstore.NewGitStore(repo.Root())

	if cli.Status {
		err := printStatus(ctx, os.Stdout, store, runs)
		kctx.FatalIfErrorf(err)
		return
	}

	metricsClient, err := metrics.New(ctx, globalConfig.MetricsConfig)
	kctx.FatalIfErrorf(err, "failed to create metrics client")
	defer func() {
		if err := metricsClient.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close metrics client", "error", err)
		}
	}()
	jobMetrics, err := metrics.NewJobMetrics(metricsClient.MeterProvider())
	kctx.FatalIfErrorf(err, "failed to create job metrics")

	maintenance := jobs.New(ctx, globalConfig.JobsConfig(), repo)
	bootstrapper := bootstrap.New(store, maintenance, globalConfig.SchedulerConfig, runs, jobMetrics)
	outcome, err := bootstrapper.Toggle(ctx)
	kctx.FatalIfErrorf(err)
	if !outcome.Enabled {
		return
	}

	signalCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	metricsClient.ServeMetrics(signalCtx)

	supervisor := outcome.Supervisor
	select {
	case <-supervisor.Done():
		logger.InfoContext(ctx, "All workers exited")
	case <-signalCtx.Done():
		logger.InfoContext(ctx, "Shutting down, waiting for running jobs")
		stopCtx, stop := context.WithTimeout(ctx, 10*time.Minute)
		defer stop()
		kctx.FatalIfErrorf(supervisor.Stop(stopCtx))
	}
}

func loadConfig(cli CLI, repo *objectstore.Git) (GlobalConfig, error) {
	path, optional := cli.Config, false
	if path == "" {
		path, optional = filepath.Join(repo.GitDir(), DefaultConfigFile), true
	}
	vars := config.ParseEnvars()
	vars["GIT_DIR"] = repo.GitDir()
	vars["REPO_ROOT"] = repo.Root()
	return config.LoadFile[GlobalConfig](path, optional, vars)
}

func printSchema(kctx *kong.Context) {
	schema, err := config.Schema[GlobalConfig]()
	kctx.FatalIfErrorf(err)
	text, err := hcl.MarshalAST(schema)
	kctx.FatalIfErrorf(err)

	if fileInfo, err := os.Stdout.Stat(); err == nil && (fileInfo.Mode()&os.ModeCharDevice) != 0 {
		err = quick.Highlight(os.Stdout, string(text), "terraform", "terminal256", "solarized")
		kctx.FatalIfErrorf(err)
	} else {
		fmt.Printf("%s\n", text) //nolint:forbidigo
	}
}
