// Package main provides the smallmerge command line tool.
//
// smallmerge reads meaning families from files (or stdin), merges families that are subsets
// of, or sufficiently similar to, another family, and writes the surviving families.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/smallmerge/internal/collections"
	"github.com/thebtf/smallmerge/internal/config"
	"github.com/thebtf/smallmerge/internal/consolidation"
	"github.com/thebtf/smallmerge/internal/db/gorm"
	"github.com/thebtf/smallmerge/internal/familyio"
	"github.com/thebtf/smallmerge/internal/runner"
	"github.com/thebtf/smallmerge/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

const stdinName = "stdin"

type cliFlags struct {
	out          string
	format       string
	ratio        float64
	pithy        int
	debug        bool
	traceSubsets bool
	traceMerges  bool
	record       bool
	watch        bool
	version      bool
}

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("smallmerge failed")
	}
}

func parseFlags(args []string, stderr io.Writer, cfg *config.Config) (*cliFlags, []string, error) {
	fs := flag.NewFlagSet("smallmerge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: smallmerge [flags] [FILE...]\n\nReads families from stdin when no file is given.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	f := &cliFlags{}
	fs.StringVar(&f.out, "out", "", "Output file (default: stdout)")
	fs.StringVar(&f.format, "format", "", "Output format: text, json or yaml (default: from -out extension, else text)")
	fs.Float64Var(&f.ratio, "ratio", cfg.SimilarityThreshold, "Similarity threshold in (0, 1]")
	fs.IntVar(&f.pithy, "pithy", cfg.PithyFilter, "Drop output families with this many words or fewer")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&f.traceSubsets, "trace-subsets", cfg.DebugSubsets, "Log every subset elimination")
	fs.BoolVar(&f.traceMerges, "trace-merges", cfg.DebugMerges, "Log every merge")
	fs.BoolVar(&f.record, "record", false, "Store each run in the run history database")
	fs.BoolVar(&f.watch, "watch", false, "Re-run whenever an input file changes")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}

	f, files, err := parseFlags(args, stderr, cfg)
	if err != nil {
		return err
	}
	if f.version {
		fmt.Fprintln(stdout, Version)
		return nil
	}

	if f.debug || f.traceSubsets || f.traceMerges {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg.SimilarityThreshold = f.ratio
	cfg.PithyFilter = f.pithy
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts := cfg.MergeOptions()

	format, err := outputFormat(f)
	if err != nil {
		return err
	}
	if f.watch && len(files) == 0 {
		return errors.New("-watch needs at least one input file")
	}

	rcfg := runner.Config{
		Tracer:      consolidation.NewLogTracer(log.Logger, f.traceSubsets, f.traceMerges),
		MaxParallel: cfg.MaxParallel,
	}
	if f.record {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		rcfg.Recorder = gorm.NewRunStore(store)
	}

	r, err := runner.New(rcfg)
	if err != nil {
		return err
	}

	m := &merger{
		runner: r,
		opts:   opts,
		files:  files,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		out:    f.out,
		format: format,
	}
	if err := m.mergeOnce(ctx); err != nil {
		return err
	}
	if !f.watch {
		return nil
	}
	return m.watch(ctx)
}

func outputFormat(f *cliFlags) (familyio.Format, error) {
	if f.format != "" {
		return familyio.ParseFormat(f.format)
	}
	if f.out != "" {
		return familyio.DetectFormat(f.out), nil
	}
	return familyio.FormatText, nil
}

func openStore(cfg *config.Config) (*gorm.Store, error) {
	if cfg.DBDriver == config.DefaultDBDriver && cfg.DBPath == config.DBPath() {
		if err := config.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := gorm.NewStore(gorm.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return store, nil
}

// merger runs one pass over all inputs.
type merger struct {
	runner *runner.Runner
	opts   consolidation.Options
	files  []string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	out    string
	format familyio.Format
}

func (m *merger) readJobs() ([]runner.Job, error) {
	if len(m.files) == 0 {
		reg, err := familyio.Decode(m.stdin, familyio.FormatText, stdinName)
		if err != nil {
			return nil, err
		}
		return jobsFrom(reg), nil
	}

	var jobs []runner.Job
	for _, path := range m.files {
		reg, err := familyio.ReadFile(path)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, jobsFrom(reg)...)
	}
	return jobs, nil
}

func jobsFrom(reg *collections.Registry) []runner.Job {
	all := reg.All()
	jobs := make([]runner.Job, len(all))
	for i, c := range all {
		jobs[i] = runner.Job{Name: c.Name, Families: c.Families}
	}
	return jobs
}

func (m *merger) mergeOnce(ctx context.Context) error {
	jobs, err := m.readJobs()
	if err != nil {
		return err
	}

	reports, err := m.runner.Run(ctx, m.opts, jobs)
	if err != nil {
		return err
	}

	result := collections.NewRegistry()
	for _, rep := range reports {
		if err := result.Add(collections.Collection{Name: rep.Name, Families: rep.Families}); err != nil {
			return fmt.Errorf("collect output: %w", err)
		}
		fmt.Fprintf(m.stderr, "%s: %d families in, %d out, %d subsets eliminated, %d merges, %v\n",
			rep.Name, rep.FamiliesIn, len(rep.Families),
			rep.Stats.SubsetsEliminated, rep.Stats.MergesPerformed, rep.Duration)
	}

	if m.out == "" {
		return familyio.Encode(m.stdout, m.format, result)
	}
	if err := familyio.WriteFile(m.out, m.format, result); err != nil {
		return fmt.Errorf("write %s: %w", m.out, err)
	}
	return nil
}

// watch re-runs the merge whenever an input file changes, until ctx ends.
func (m *merger) watch(ctx context.Context) error {
	changed := make(chan string, 1)
	for _, path := range m.files {
		w, err := watcher.New(path, func() {
			select {
			case changed <- path:
			default:
			}
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		defer w.Stop()
		log.Info().Str("path", w.Path()).Msg("Watching input file")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-changed:
			log.Info().Str("path", path).Msg("Input changed, merging again")
			if err := m.mergeOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Merge failed")
			}
		}
	}
}
