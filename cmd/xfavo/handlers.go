package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/YK8349/X-favo-manager/internal/config"
	"github.com/YK8349/X-favo-manager/internal/scheduler"
	"github.com/YK8349/X-favo-manager/internal/store"
	"github.com/YK8349/X-favo-manager/pkg/alert"
	"github.com/YK8349/X-favo-manager/pkg/blob"
	"github.com/YK8349/X-favo-manager/pkg/dom"
	"github.com/YK8349/X-favo-manager/pkg/importer"
	"github.com/YK8349/X-favo-manager/pkg/post"
	"github.com/YK8349/X-favo-manager/pkg/server"
	"github.com/YK8349/X-favo-manager/pkg/source"
	"github.com/rs/zerolog"
)

// app bundles what every command needs.
type app struct {
	cfg *config.Config
	db  *store.SQLiteStore
	log zerolog.Logger
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.Log, os.Stderr)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{cfg: cfg, db: db, log: log}, nil
}

func (a *app) Close() error { return a.db.Close() }

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if !cfg.JSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func (a *app) buildImporter(ctx context.Context) (*importer.Importer, error) {
	icfg := importer.Config{
		MaxArchiveBytes: a.cfg.Import.MaxArchiveBytes,
		Renderer:        dom.NewHTTPRenderer(a.cfg.Import.ParseRenderTimeout()),
	}
	if a.cfg.Blob.Enabled {
		archiver, err := blob.NewS3Archiver(ctx, blob.Config{
			Bucket:       a.cfg.Blob.Bucket,
			Prefix:       a.cfg.Blob.Prefix,
			Region:       a.cfg.Blob.Region,
			Endpoint:     a.cfg.Blob.Endpoint,
			UsePathStyle: a.cfg.Blob.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("archive retention: %w", err)
		}
		icfg.Archiver = archiver
		a.log.Info().Str("bucket", a.cfg.Blob.Bucket).Msg("keeping original archives")
	}
	return importer.New(a.db, a.log, icfg), nil
}

func (a *app) buildAlertManager() *alert.Manager {
	var notifiers []alert.Notifier

	if a.cfg.Alerts.Slack.Enabled && a.cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(a.cfg.Alerts.Slack.WebhookURL))
	}
	if a.cfg.Alerts.Webhook.Enabled && a.cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(a.cfg.Alerts.Webhook.URL, a.cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func (a *app) buildNitter() *source.Nitter {
	n := a.cfg.Sources.Nitter
	return source.NewNitter(n.URL, n.Accounts, n.ParseSince(), a.log)
}

func (a *app) importOptions(f importFlags) importer.Options {
	workers := f.workers
	if workers == 0 {
		workers = a.cfg.Import.Workers
	}
	return importer.Options{Folder: f.folder, Tags: f.tags, Workers: workers}
}

func runImport(ctx context.Context, dir string, f importFlags, jsonOutput bool) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("import %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("import %s: not a directory", dir)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	inputs, err := importer.DirInputs(dir)
	if err != nil {
		return err
	}
	im, err := a.buildImporter(ctx)
	if err != nil {
		return err
	}

	batch := im.ImportBatch(ctx, inputs, a.importOptions(f))

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	}
	return printBatch(os.Stdout, batch)
}

func printBatch(out io.Writer, batch *importer.BatchResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, d := range batch.Details {
		switch d.Status {
		case importer.StatusAdded:
			fmt.Fprintf(w, "added\t%s\t%s\n", d.Name, d.SourceURL)
		case importer.StatusSkipped:
			fmt.Fprintf(w, "skipped\t%s\t%s\n", d.Name, d.Reason)
		default:
			fmt.Fprintf(w, "failed\t%s\t%s: %s\n", d.Name, d.Stage, d.Error)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	s := batch.Summary
	_, err := fmt.Fprintf(out, "\n%d added, %d skipped, %d failed\n", s.Added, s.Skipped, s.Failed)
	return err
}

func runAdd(ctx context.Context, url string, f importFlags) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	im, err := a.buildImporter(ctx)
	if err != nil {
		return err
	}

	req := importer.CreateRequest{URL: url, Tags: f.tags}
	if f.folder != "" {
		folder, err := a.db.FindOrCreateFolder(ctx, f.folder)
		if err != nil {
			return fmt.Errorf("folder %q: %w", f.folder, err)
		}
		req.FolderID = &folder.ID
	}

	p, created, err := im.Create(ctx, req)
	if err != nil {
		return err
	}
	verb := "already stored"
	if created {
		verb = "added"
	}
	fmt.Printf("%s: post %d %s\n", verb, p.ID, p.SourceURL)
	return nil
}

type listFlags struct {
	folder string
	tags   []string
	sort   string
	offset int
	limit  int
	json   bool
}

func runList(ctx context.Context, f listFlags) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := store.ListOpts{Tags: f.tags, Sort: f.sort, Offset: f.offset, Limit: f.limit}
	if f.folder != "" {
		folder, err := a.db.GetFolderByName(ctx, f.folder)
		if err != nil {
			return err
		}
		opts.FolderID = &folder.ID
	}

	posts, err := a.db.ListPosts(ctx, opts)
	if err != nil {
		return err
	}

	if f.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(posts)
	}

	if len(posts) == 0 {
		fmt.Println("no posts found (try importing first: xfavo import <dir>)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPOSTED\tAUTHOR\tTAGS\tTEXT")
	for _, p := range posts {
		fmt.Fprintf(w, "%d\t%s\t@%s\t%s\t%s\n",
			p.ID, postedAt(p), p.AuthorHandle, tagNames(p.Tags), snippet(p.Body, 60))
	}
	return w.Flush()
}

func postedAt(p post.Stored) string {
	if p.PostedAt == nil {
		return "-"
	}
	s := p.PostedAt.Format(time.DateTime)
	if p.PostedAtApprox {
		s = "~" + s
	}
	return s
}

func tagNames(tags []post.Tag) string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return strings.Join(names, ",")
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func runTags(ctx context.Context) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	tags, err := a.db.ListTags(ctx, 0, 1000)
	if err != nil {
		return err
	}
	for _, t := range tags {
		fmt.Println(t.Name)
	}
	return nil
}

func runFolders(ctx context.Context) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	folders, err := a.db.ListFolders(ctx, 0, 1000)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, f := range folders {
		fmt.Fprintf(w, "%d\t%s\n", f.ID, f.Name)
	}
	return w.Flush()
}

func runFolderCreate(ctx context.Context, name string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.db.CreateFolder(ctx, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	fmt.Printf("created folder %d %s\n", f.ID, f.Name)
	return nil
}

func runRetag(ctx context.Context, rawID string, tags []string) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid post id %q", rawID)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	im, err := a.buildImporter(ctx)
	if err != nil {
		return err
	}
	p, err := im.ReplaceTags(ctx, id, tags)
	if err != nil {
		return err
	}
	fmt.Printf("post %d tags: %s\n", p.ID, tagNames(p.Tags))
	return nil
}

func runServe(ctx context.Context, port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	im, err := a.buildImporter(ctx)
	if err != nil {
		return err
	}

	srv := server.New(a.db, im, server.Options{
		Port:           port,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
	}, a.log)
	return srv.ListenAndServe(ctx)
}

func runWatch(ctx context.Context, dir string, f importFlags, interval string, feed bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	im, err := a.buildImporter(ctx)
	if err != nil {
		return err
	}

	watch := a.cfg.Watch
	if interval != "" {
		watch.Interval = interval
	}
	if f.folder == "" {
		f.folder = watch.Folder
	}

	opts := scheduler.Options{
		Inbox:        dir,
		ScanInterval: watch.ParseInterval(),
		Import:       a.importOptions(f),
	}
	if feed || a.cfg.Sources.Nitter.Enabled {
		opts.Feed = a.buildNitter()
		opts.FeedTags = a.cfg.Sources.Nitter.Tags
	}

	sched := scheduler.New(im, a.buildAlertManager(), opts, a.log)
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runFeed(ctx context.Context, f importFlags) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.cfg.Sources.Nitter.Accounts) == 0 {
		return errors.New("no accounts configured under sources.nitter.accounts")
	}

	im, err := a.buildImporter(ctx)
	if err != nil {
		return err
	}

	recs, err := a.buildNitter().Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect feed: %w", err)
	}
	opts := a.importOptions(f)
	opts.Tags = append(opts.Tags, a.cfg.Sources.Nitter.Tags...)

	batch := im.ImportRecords(ctx, recs, opts)
	if mgr := a.buildAlertManager(); mgr.HasNotifiers() && batch.Summary.Added > 0 {
		if err := mgr.Broadcast(ctx, alert.FromBatch("Feed import", batch)); err != nil {
			a.log.Warn().Err(err).Msg("send alert")
		}
	}
	return printBatch(os.Stdout, batch)
}
