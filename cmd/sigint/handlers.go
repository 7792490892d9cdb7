package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/sigint/internal/config"
	"github.com/elonfeng/sigint/internal/logging"
	"github.com/elonfeng/sigint/internal/scheduler"
	"github.com/elonfeng/sigint/internal/store"
	"github.com/elonfeng/sigint/pkg/alert"
	"github.com/elonfeng/sigint/pkg/correlation"
	"github.com/elonfeng/sigint/pkg/filter"
	"github.com/elonfeng/sigint/pkg/llm"
	"github.com/elonfeng/sigint/pkg/model"
	"github.com/elonfeng/sigint/pkg/narrative"
	"github.com/elonfeng/sigint/pkg/reporter"
	"github.com/elonfeng/sigint/pkg/server"
	"github.com/elonfeng/sigint/pkg/source"
)

const cleanupJobName = "cleanup"

// app holds the wiring shared by every command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *store.SQLiteStore
}

func loadEnv() {
	path := strings.TrimSpace(envFile)
	if path == "" {
		return
	}
	if err := godotenv.Overload(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load %s: %v\n", path, err)
	}
}

func loadConfig() (*config.Config, error) {
	loadEnv()
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// selector builds the model-backed selector. Without an API key every call
// fails, so reports fall back to recency and narratives skip model patterns.
func (a *app) selector() *llm.Selector {
	c := a.cfg.LLM
	completer, err := llm.New(llm.Options{
		Provider:          c.Provider,
		Model:             c.Model,
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		Timeout:           c.Timeout.D(),
		RequestsPerMinute: c.RequestsPerMinute,
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("language model unavailable")
		completer = llm.Unavailable(err)
	}
	prompts := llm.NewPrompts(a.cfg.Categories.Instructions())
	return llm.NewSelector(completer, prompts, c.TopN, a.logger)
}

func (a *app) reporter(sel *llm.Selector) *reporter.Reporter {
	c := a.cfg
	normalizer := source.NewNormalizer(source.NormalizerOptions{
		MaxItemsPerFeed: c.Fetch.MaxItemsPerFeed,
		Exclude:         c.Filter.ExcludeKeywords,
		Logger:          a.logger,
	})
	fetcher := source.NewFetcher(normalizer, source.FetcherOptions{
		MaxConcurrent: c.Fetch.MaxConcurrent,
		Timeout:       c.Fetch.Timeout.D(),
		UserAgent:     c.Fetch.UserAgent,
		Logger:        a.logger,
	})
	return reporter.New(a.db, fetcher, sel, reporter.Options{
		Feeds:    c.Categories.Feeds(),
		Pipeline: filter.NewPipeline(c.Filter.MaxAgeHours, c.Filter.SimilarityThreshold, c.Filter.MaxPerSource, c.Filter.MaxCandidates),
		Limit:    c.Filter.PanelSize,
		Logger:   a.logger,
	})
}

func (a *app) editor(sel *llm.Selector) *reporter.Editor {
	return reporter.NewEditor(a.db, sel, a.logger, nil)
}

func (a *app) signals() *reporter.SignalCollector {
	x := source.NewXClient(source.XOptions{
		BaseURL:    a.cfg.X.BaseURL,
		Token:      a.cfg.X.BearerToken,
		MaxResults: a.cfg.X.MaxResults,
		Interval:   a.cfg.X.Interval.D(),
		Logger:     a.logger,
	})
	return reporter.NewSignalCollector(a.db, x, reporter.SignalOptions{
		Accounts: a.cfg.Categories.Accounts(),
		Logger:   a.logger,
	})
}

func (a *app) tracker(sel *llm.Selector) *narrative.Tracker {
	c := a.cfg.Correlation
	engine := correlation.New(correlation.Config{
		VelocityWindow:       c.VelocityWindow.D(),
		BaselineWindow:       c.BaselineWindow.D(),
		SpikeThreshold:       c.SpikeThreshold,
		BaselineFloor:        c.BaselineFloor,
		EntityMatchThreshold: c.EntityMatchThreshold,
		TemporalWindow:       c.TemporalWindow.D(),
		MinConfidence:        c.MinConfidence,
		KnownTerms:           c.KnownTerms,
	})
	return narrative.NewTracker(a.db, narrative.TrackerOptions{
		Detector:         sel,
		Engine:           engine,
		SignalCategories: a.cfg.Narrative.SignalCategories,
		Aggregate: narrative.Options{
			Retention:   a.cfg.Narrative.Retention.D(),
			MaxPatterns: a.cfg.Narrative.MaxPatterns,
		},
		Logger: a.logger,
	})
}

func (a *app) cleanup(ctx context.Context, retentionDays int, dryRun bool) model.RunResult {
	now := time.Now()
	res := model.NewRunResult(cleanupJobName, "", now)
	if retentionDays == 0 {
		retentionDays = a.cfg.Archive.RetentionDays
	}
	report, err := a.db.CleanupArchive(ctx, retentionDays, dryRun, now)
	res.DurationMS = time.Since(now).Milliseconds()
	if err != nil {
		res.Fail(err)
		return res
	}
	res.Success = true
	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}
	res.Message = fmt.Sprintf("%s %s items from %d days before %s, pruned %d seen ids",
		verb, humanize.Comma(report.Items), len(report.Dates), report.CutoffDate, report.SeenPruned)
	return res
}

func (a *app) alertManager() *alert.Manager {
	c := a.cfg.Alerts
	var notifiers []alert.Notifier
	if c.Slack.Enabled && c.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(c.Slack.WebhookURL))
	}
	if c.Discord.Enabled && c.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(c.Discord.WebhookURL))
	}
	if c.Webhook.Enabled && c.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(c.Webhook.URL, c.Webhook.Secret))
	}
	return alert.NewManager(notifiers)
}

// jobs lists the daemon jobs in dependency order: signals feed the
// narrative tracker, and reports feed the editor and the tracker.
func (a *app) jobs() []scheduler.Job {
	sel := a.selector()
	rep := a.reporter(sel)
	ed := a.editor(sel)
	sig := a.signals()
	tr := a.tracker(sel)
	s := a.cfg.Schedule

	jobs := []scheduler.Job{}
	if a.cfg.X.BearerToken != "" && len(sig.Categories()) > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     reporter.SignalsJobName,
			Interval: s.SignalsInterval.D(),
			Run: func(ctx context.Context) []model.RunResult {
				var out []model.RunResult
				for _, cat := range sig.Categories() {
					out = append(out, sig.Run(ctx, cat))
				}
				return out
			},
		})
	}
	jobs = append(jobs,
		scheduler.Job{Name: reporter.JobName, Interval: s.ReportInterval.D(), Run: rep.RunAll},
		scheduler.Job{
			Name:     reporter.EditorJobName,
			Interval: s.ReportInterval.D(),
			Run:      func(ctx context.Context) []model.RunResult { return []model.RunResult{ed.Run(ctx)} },
		},
		scheduler.Job{
			Name:     narrative.JobName,
			Interval: s.NarrativeInterval.D(),
			Run:      func(ctx context.Context) []model.RunResult { return []model.RunResult{tr.Run(ctx)} },
		},
		scheduler.Job{
			Name:     cleanupJobName,
			Interval: s.CleanupInterval.D(),
			Run: func(ctx context.Context) []model.RunResult {
				return []model.RunResult{a.cleanup(ctx, 0, false)}
			},
		},
	)
	return jobs
}

func parseCategories(raw []string, fallback []model.Category) ([]model.Category, error) {
	if len(raw) == 0 {
		return fallback, nil
	}
	out := make([]model.Category, 0, len(raw))
	for _, r := range raw {
		cat, err := model.ParseCategory(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cat)
	}
	return out, nil
}

func runReport(ctx context.Context, rawCategories []string, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rep := a.reporter(a.selector())
	cats, err := parseCategories(rawCategories, rep.Categories())
	if err != nil {
		return err
	}
	var results []model.RunResult
	for _, cat := range cats {
		results = append(results, rep.Run(ctx, cat))
	}
	return printResults(results, jsonOutput)
}

func runEditor(ctx context.Context, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return printResults([]model.RunResult{a.editor(a.selector()).Run(ctx)}, jsonOutput)
}

func runSignals(ctx context.Context, rawCategories []string, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.X.BearerToken == "" {
		return errors.New("X_BEARER_TOKEN is not set")
	}
	sig := a.signals()
	cats, err := parseCategories(rawCategories, sig.Categories())
	if err != nil {
		return err
	}
	var results []model.RunResult
	for _, cat := range cats {
		results = append(results, sig.Run(ctx, cat))
	}
	return printResults(results, jsonOutput)
}

func runNarrative(ctx context.Context, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return printResults([]model.RunResult{a.tracker(a.selector()).Run(ctx)}, jsonOutput)
}

func runCleanup(ctx context.Context, retentionDays int, dryRun bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.cleanup(ctx, retentionDays, dryRun)
	if !res.Success {
		return fmt.Errorf("cleanup: %s", res.Error)
	}
	fmt.Println(res.Message)
	return nil
}

func runStatus(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tITEMS\tUPDATED\tTOP ITEM")
	for _, cat := range model.AllCategories() {
		state, err := a.db.GetCurrent(ctx, cat)
		if err != nil {
			return err
		}
		if state == nil {
			fmt.Fprintf(w, "%s\t0\tnever\t\n", cat)
			continue
		}
		top := ""
		if len(state.Items) > 0 {
			top = truncate(state.Items[0].Title, 70)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", cat, len(state.Items), humanize.Time(state.LastUpdated), top)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	doc, err := a.db.GetNarratives(ctx)
	if err != nil {
		return err
	}
	if doc == nil || len(doc.Patterns) == 0 {
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRENGTH\tFIRST SEEN\tPATTERN")
	for _, p := range doc.Patterns {
		fmt.Fprintf(w, "%.2f\t%s\t%s\n", p.Strength, humanize.Time(p.FirstSeen), p.Title)
	}
	return w.Flush()
}

func runServe(ctx context.Context, port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	sched := scheduler.New(a.db, a.jobs(), a.alertManager(), a.cfg.Alerts.MinConfidence, a.logger)
	srv := server.New(a.db, sched, a.logger, server.Options{Host: a.cfg.Server.Host, Port: port})
	return srv.Start(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	sched := scheduler.New(a.db, a.jobs(), a.alertManager(), a.cfg.Alerts.MinConfidence, a.logger)
	srv := server.New(a.db, sched, a.logger, server.Options{Host: a.cfg.Server.Host, Port: port})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error { return srv.Start(ctx) })
	return g.Wait()
}

func printResults(results []model.RunResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tCATEGORY\tOK\tFETCHED\tNEW\tSELECTED\tFALLBACK\tTOOK\tNOTE")
	failed := 0
	for _, r := range results {
		note := r.Message
		if !r.Success {
			failed++
			note = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%d\t%t\t%s\t%s\n",
			r.Job, r.Category, r.Success, r.ItemsFetched, r.ItemsNew, r.ItemsSelected, r.Fallback,
			time.Duration(r.DurationMS)*time.Millisecond, truncate(note, 80))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(results))
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
