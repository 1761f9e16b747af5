package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/YK8349/X-favo-manager/pkg/alert"
	"github.com/YK8349/X-favo-manager/pkg/importer"
	"github.com/YK8349/X-favo-manager/pkg/post"
	"github.com/rs/zerolog"
)

// Collector produces records from a feed.
type Collector interface {
	Collect(ctx context.Context) ([]post.Record, error)
}

// Options configure a Scheduler.
type Options struct {
	// Inbox is scanned for new archives; empty disables scanning.
	Inbox        string
	ScanInterval time.Duration
	// Feed is polled every FeedInterval; nil disables polling.
	Feed         Collector
	FeedInterval time.Duration
	FeedTags     []string
	Import       importer.Options
}

// Scheduler imports archives dropped into an inbox directory and records
// collected from a feed.
type Scheduler struct {
	importer *importer.Importer
	alertMgr *alert.Manager
	opts     Options
	log      zerolog.Logger

	// seen maps file name to the size and mtime it was imported at, so a
	// file is retried only after it changes.
	seen map[string]fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// New creates a new scheduler.
func New(im *importer.Importer, alertMgr *alert.Manager, opts Options, log zerolog.Logger) *Scheduler {
	if opts.ScanInterval == 0 {
		opts.ScanInterval = time.Minute
	}
	if opts.FeedInterval == 0 {
		opts.FeedInterval = 15 * time.Minute
	}
	if alertMgr == nil {
		alertMgr = alert.NewManager(nil)
	}
	return &Scheduler{
		importer: im,
		alertMgr: alertMgr,
		opts:     opts,
		log:      log.With().Str("component", "scheduler").Logger(),
		seen:     make(map[string]fileStamp),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	scanTicker := time.NewTicker(s.opts.ScanInterval)
	feedTicker := time.NewTicker(s.opts.FeedInterval)
	defer scanTicker.Stop()
	defer feedTicker.Stop()

	// Run immediately on start.
	s.ScanOnce(ctx)
	s.CollectOnce(ctx)

	s.log.Info().
		Str("inbox", s.opts.Inbox).
		Dur("scan_every", s.opts.ScanInterval).
		Bool("feed", s.opts.Feed != nil).
		Msg("running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("stopped")
			return ctx.Err()
		case <-scanTicker.C:
			s.ScanOnce(ctx)
		case <-feedTicker.C:
			s.CollectOnce(ctx)
		}
	}
}

// ScanOnce imports archives in the inbox that are new or changed since the
// previous scan. It returns nil when there was nothing to import.
func (s *Scheduler) ScanOnce(ctx context.Context) *importer.BatchResult {
	if s.opts.Inbox == "" {
		return nil
	}
	paths, stamps, err := s.pending()
	if err != nil {
		s.log.Warn().Err(err).Msg("scan inbox")
		return nil
	}
	if len(paths) == 0 {
		return nil
	}

	inputs := make([]importer.Input, len(paths))
	for i, p := range paths {
		inputs[i] = importer.FileInput(p)
	}
	batch := s.importer.ImportBatch(ctx, inputs, s.opts.Import)

	for i, d := range batch.Details {
		// Canceled items are picked up again on the next run.
		if d.Stage == importer.StageCanceled {
			continue
		}
		s.seen[filepath.Base(paths[i])] = stamps[i]
	}

	s.notify(ctx, "Inbox import", batch)
	return batch
}

// CollectOnce polls the feed and imports its records.
func (s *Scheduler) CollectOnce(ctx context.Context) *importer.BatchResult {
	if s.opts.Feed == nil {
		return nil
	}
	recs, err := s.opts.Feed.Collect(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("collect feed")
	}
	if len(recs) == 0 {
		return nil
	}

	opts := s.opts.Import
	opts.Tags = append(append([]string{}, opts.Tags...), s.opts.FeedTags...)
	batch := s.importer.ImportRecords(ctx, recs, opts)
	s.notify(ctx, "Feed import", batch)
	return batch
}

func (s *Scheduler) pending() ([]string, []fileStamp, error) {
	entries, err := os.ReadDir(s.opts.Inbox)
	if err != nil {
		return nil, nil, fmt.Errorf("read inbox %s: %w", s.opts.Inbox, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var (
		paths  []string
		stamps []fileStamp
	)
	for _, e := range entries {
		if e.IsDir() || !importer.IsArchive(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := s.seen[e.Name()]; ok && prev == stamp {
			continue
		}
		paths = append(paths, filepath.Join(s.opts.Inbox, e.Name()))
		stamps = append(stamps, stamp)
	}
	return paths, stamps, nil
}

func (s *Scheduler) notify(ctx context.Context, title string, batch *importer.BatchResult) {
	if batch.Summary.Added == 0 || !s.alertMgr.HasNotifiers() {
		return
	}
	if err := s.alertMgr.Broadcast(ctx, alert.FromBatch(title, batch)); err != nil {
		s.log.Warn().Err(err).Str("run_id", batch.RunID).Msg("send alert")
	}
}
