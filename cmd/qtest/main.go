// Command qtest runs the question test harness over a question directory or
// a bank of questions and optionally exports the results as a workbook.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/elements"
	"github.com/p-n-ai/pai-elements/internal/events"
	"github.com/p-n-ai/pai-elements/internal/platform/cache"
	"github.com/p-n-ai/pai-elements/internal/platform/config"
	"github.com/p-n-ai/pai-elements/internal/platform/database"
	"github.com/p-n-ai/pai-elements/internal/platform/logging"
	"github.com/p-n-ai/pai-elements/internal/question"
	"github.com/p-n-ai/pai-elements/internal/report"
	"github.com/p-n-ai/pai-elements/internal/tmpl"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg.Log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	passed, err := run(ctx, cfg, os.Args[1:], os.Stdout)
	if err != nil {
		slog.Error("qtest failed", "error", err)
		os.Exit(1)
	}
	if !passed {
		os.Exit(1)
	}
}

// loadConfig reads the environment and validates the result.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return *cfg, nil
}

// run executes the harness and reports whether every case passed.
func run(ctx context.Context, cfg config.Config, args []string, out io.Writer) (bool, error) {
	fs := flag.NewFlagSet("qtest", flag.ContinueOnError)
	fs.SetOutput(out)
	path := fs.String("question", "", "question directory, or a directory of questions")
	seedList := fs.String("seeds", "1", "comma-separated variant seeds")
	outPath := fs.String("out", "", "write an xlsx report to this file")
	if err := fs.Parse(args); err != nil {
		return false, err
	}
	if *path == "" {
		return false, errors.New("-question is required")
	}
	seeds, err := parseSeeds(*seedList)
	if err != nil {
		return false, err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return false, err
	}
	defer a.close()

	questions, err := a.questions(*path)
	if err != nil {
		return false, err
	}

	var reports []question.TestReport
	passed := true
	for _, q := range questions {
		r, err := question.RunTests(ctx, a.engine, q, nil, seeds)
		if err != nil {
			return false, fmt.Errorf("testing %s: %w", q.ID, err)
		}
		reports = append(reports, r)
		printReport(out, r)
		passed = passed && r.Passed()
	}

	if *outPath != "" {
		if err := writeReport(*outPath, reports); err != nil {
			return false, err
		}
		slog.Info("report written", "path", *outPath, "questions", len(reports))
	}
	return passed, nil
}

func parseSeeds(s string) ([]int64, error) {
	var seeds []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", part, err)
		}
		seeds = append(seeds, n)
	}
	if len(seeds) == 0 {
		return nil, errors.New("no seeds given")
	}
	return seeds, nil
}

type app struct {
	engine  *question.Engine
	catalog *element.Catalog
	runners element.Runners
	closers []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		catalog: element.NewCatalog(),
		runners: element.DefaultRunners(cfg.Runners.Python, cfg.Runners.Shell),
	}
	elements.Register(a.catalog)

	reg, err := element.NewRegistry(element.RegistryConfig{
		CoreDir:             cfg.Elements.CoreDir,
		CourseElementsDir:   cfg.Elements.CourseElementsDir(),
		CourseExtensionsDir: cfg.Elements.CourseExtensionsDir(),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("elements loaded", "count", len(reg.Tags()))

	renderCache, err := a.openCache(ctx, cfg.Cache)
	if err != nil {
		a.close()
		return nil, err
	}
	eventLog, err := a.openEvents(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	mode := tmpl.Silent
	if cfg.Render.WarnMissing {
		mode = tmpl.Warn
	}
	a.engine = question.NewEngine(question.EngineConfig{
		Loader: element.NewLoader(reg, element.LoaderConfig{
			Catalog:               a.catalog,
			Runners:               a.runners,
			SharedPath:            cfg.Elements.SharedPath,
			CourseServerFilesPath: cfg.Elements.ServerFilesCoursePath(),
		}),
		Timeout:        cfg.Render.ControllerTimeout(),
		MaxRenderDepth: cfg.Render.MaxDepth,
		TemplateMode:   mode,
		Cache:          renderCache,
		Events:         eventLog,
	})
	return a, nil
}

func (a *app) openCache(ctx context.Context, cfg config.CacheConfig) (cache.RenderCache, error) {
	if cfg.URL == "" {
		return cache.NewMemoryRenderCache(), nil
	}
	rc, err := cache.DialRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { rc.Close() })
	return rc, nil
}

func (a *app) openEvents(ctx context.Context, cfg config.Config) (events.Logger, error) {
	switch {
	case cfg.Database.URL != "":
		pool, err := database.OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		l := events.NewPostgresLogger(pool)
		if err := l.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return l, nil
	case cfg.Events.SQLitePath != "":
		db, err := database.OpenSQLite(ctx, cfg.Events.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		l := events.NewSQLiteLogger(db)
		if err := l.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return l, nil
	}
	return events.NopLogger{}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// questions loads path as one question when it holds a template, otherwise
// as a bank.
func (a *app) questions(path string) ([]*question.Question, error) {
	if _, err := os.Stat(filepath.Join(path, question.TemplateFile)); err == nil {
		q, err := question.Load(path, a.catalog, a.runners)
		if err != nil {
			return nil, err
		}
		return []*question.Question{q}, nil
	}
	bank, err := question.LoadBank(path, a.catalog, a.runners)
	if err != nil {
		return nil, err
	}
	all := bank.All()
	if len(all) == 0 {
		return nil, fmt.Errorf("no questions under %s", path)
	}
	return all, nil
}

func printReport(w io.Writer, r question.TestReport) {
	status := "PASS"
	if !r.Passed() {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%d cases)\n", status, r.Question, len(r.Cases))
	for _, c := range r.Cases {
		if !c.Passed {
			fmt.Fprintf(w, "  seed %d %s: %s\n", c.Seed, c.Type, c.Message)
		}
	}
}

func writeReport(path string, reports []question.TestReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := report.WriteWorkbook(f, reports...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
