// Package importer drives archives through decoding, extraction, identity
// resolution and tag reconciliation, one transaction per item.
package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/YK8349/X-favo-manager/internal/store"
	"github.com/YK8349/X-favo-manager/pkg/archive"
	"github.com/YK8349/X-favo-manager/pkg/dom"
	"github.com/YK8349/X-favo-manager/pkg/extract"
	"github.com/YK8349/X-favo-manager/pkg/post"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Status is the per-item outcome.
type Status string

const (
	StatusAdded   Status = "added"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Stage names the pipeline step an item failed in.
type Stage string

const (
	StageRead     Stage = "read"
	StageDecode   Stage = "decode"
	StageExtract  Stage = "extract"
	StageStore    Stage = "store"
	StageCanceled Stage = "canceled"
)

// SkipReason is reported for items whose identity is already stored.
const SkipReason = "post already exists"

// Extensions recognized as archives.
var Extensions = []string{".mhtml", ".mht"}

// StorageError wraps a failure inside an item's transaction.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// ItemResult is the outcome of one input.
type ItemResult struct {
	Name      string `json:"filename,omitempty"`
	Status    Status `json:"status"`
	SourceURL string `json:"url,omitempty"`
	PostID    int64  `json:"post_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	Stage     Stage  `json:"stage,omitempty"`
}

// Summary tallies outcomes.
type Summary struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s *Summary) add(st Status) {
	switch st {
	case StatusAdded:
		s.Added++
	case StatusSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// Total is the number of items tallied.
func (s Summary) Total() int { return s.Added + s.Skipped + s.Failed }

// BatchResult holds the tally and one detail per input, in input order.
type BatchResult struct {
	RunID   string       `json:"run_id"`
	Summary Summary      `json:"results"`
	Details []ItemResult `json:"details"`
}

// Input is one archive of a batch.
type Input struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileInput reads an archive from disk.
func FileInput(path string) Input {
	return Input{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// BytesInput wraps an in-memory archive.
func BytesInput(name string, data []byte) Input {
	return Input{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// IsArchive reports whether name has a recognized archive extension.
func IsArchive(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// DirInputs lists the archives directly inside dir, sorted by name.
func DirInputs(dir string) ([]Input, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var inputs []Input
	for _, e := range entries {
		if e.IsDir() || !IsArchive(e.Name()) {
			continue
		}
		inputs = append(inputs, FileInput(filepath.Join(dir, e.Name())))
	}
	return inputs, nil
}

// Options apply to every item of an import.
type Options struct {
	// Folder is created when missing.
	Folder string
	Tags   []string
	// Workers bounds concurrent items; values below 2 import sequentially.
	Workers int
}

// Archiver keeps a copy of each added archive.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte) error
}

// ArchiveKey names the kept copy of an archive.
func ArchiveKey(rec post.Record) string {
	id := rec.SourceID
	if id == "" {
		sum := sha256.Sum256([]byte(rec.SourceURL))
		id = hex.EncodeToString(sum[:])
	}
	return "archives/" + id + ".mhtml"
}

// Config holds the importer's collaborators.
type Config struct {
	MaxArchiveBytes int64
	Renderer        dom.Renderer
	Archiver        Archiver
}

// Importer runs the pipeline against a store.
type Importer struct {
	store     store.Store
	decoder   *archive.Decoder
	extractor *extract.Extractor
	renderer  dom.Renderer
	archiver  Archiver
	log       zerolog.Logger
}

// New creates an importer.
func New(s store.Store, log zerolog.Logger, cfg Config) *Importer {
	return &Importer{
		store:     s,
		decoder:   archive.NewDecoder(cfg.MaxArchiveBytes),
		extractor: extract.New(),
		renderer:  cfg.Renderer,
		archiver:  cfg.Archiver,
		log:       log.With().Str("component", "importer").Logger(),
	}
}

// ImportBatch imports every input and never stops early: each input appears
// exactly once in the result. Cancelling ctx fails the items not yet started.
func (im *Importer) ImportBatch(ctx context.Context, inputs []Input, opts Options) *BatchResult {
	batch := &BatchResult{
		RunID:   uuid.NewString(),
		Details: make([]ItemResult, len(inputs)),
	}
	if len(inputs) == 0 {
		return batch
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	workers = min(workers, len(inputs))

	type indexed struct {
		i   int
		res ItemResult
	}
	jobs := make(chan int)
	results := make(chan indexed)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				results <- indexed{i: i, res: im.importInput(ctx, inputs[i], opts)}
			}
			return nil
		})
	}
	go func() {
		defer close(jobs)
		for i := range inputs {
			jobs <- i
		}
	}()
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for r := range results {
		batch.Details[r.i] = r.res
		batch.Summary.add(r.res.Status)
	}

	im.log.Info().
		Str("run_id", batch.RunID).
		Int("added", batch.Summary.Added).
		Int("skipped", batch.Summary.Skipped).
		Int("failed", batch.Summary.Failed).
		Msg("batch imported")
	return batch
}

func (im *Importer) importInput(ctx context.Context, in Input, opts Options) ItemResult {
	if err := ctx.Err(); err != nil {
		return failed(ItemResult{Name: in.Name}, StageCanceled, err)
	}
	rc, err := in.Open()
	if err != nil {
		return failed(ItemResult{Name: in.Name}, StageRead, err)
	}
	defer rc.Close()
	return im.ImportArchive(ctx, in.Name, rc, opts)
}

// ImportArchive imports one archive. It never panics and never returns an
// error; failures are reported in the result.
func (im *Importer) ImportArchive(ctx context.Context, name string, r io.Reader, opts Options) (res ItemResult) {
	res.Name = name
	defer func() {
		if p := recover(); p != nil {
			res = failed(res, StageStore, fmt.Errorf("panic: %v", p))
		}
		im.logResult(res)
	}()

	raw, err := im.decoder.ReadAll(r)
	if err != nil {
		return failed(res, StageDecode, err)
	}
	snap, err := archive.DecodeBytes(raw)
	if err != nil {
		return failed(res, StageDecode, err)
	}
	res.SourceURL = snap.SourceURL

	root, err := dom.ParseString(snap.Markup)
	if err != nil {
		return failed(res, StageExtract, err)
	}
	ex, err := im.extractor.Extract(root, snap.SourceURL)
	if err != nil {
		return failed(res, StageExtract, err)
	}
	for _, m := range ex.Misses {
		im.log.Debug().Str("file", name).Str("field", m.Field).Str("reason", m.Reason).Msg("field fallback")
	}

	return im.commit(ctx, res, ex.Record, opts, raw)
}

// ImportRecords imports already extracted records, e.g. from a feed.
func (im *Importer) ImportRecords(ctx context.Context, recs []post.Record, opts Options) *BatchResult {
	batch := &BatchResult{RunID: uuid.NewString(), Details: make([]ItemResult, 0, len(recs))}
	for _, rec := range recs {
		res := ItemResult{Name: rec.SourceURL, SourceURL: rec.SourceURL}
		if err := ctx.Err(); err != nil {
			res = failed(res, StageCanceled, err)
		} else {
			res = im.commit(ctx, res, rec, opts, nil)
		}
		im.logResult(res)
		batch.Details = append(batch.Details, res)
		batch.Summary.add(res.Status)
	}
	return batch
}

// commit resolves and stores rec in its own transaction.
func (im *Importer) commit(ctx context.Context, res ItemResult, rec post.Record, opts Options, raw []byte) ItemResult {
	var (
		resolution Resolution
		stored     *post.Stored
	)
	err := im.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		resolution, err = Resolve(ctx, q, rec)
		if err != nil || resolution.Outcome == OutcomeSkipped {
			return err
		}

		p := &post.Stored{Record: rec}
		if opts.Folder != "" {
			f, err := q.FindOrCreateFolder(ctx, opts.Folder)
			if err != nil {
				return err
			}
			p.FolderID = &f.ID
		}
		if err := q.InsertPost(ctx, p); err != nil {
			return err
		}
		tags, _, err := ReconcileTags(ctx, q, opts.Tags)
		if err != nil {
			return err
		}
		if err := q.SetPostTags(ctx, p.ID, tagIDs(tags)); err != nil {
			return err
		}
		stored = p
		return nil
	})
	if err != nil {
		return failed(res, StageStore, &StorageError{Err: err})
	}

	if resolution.Outcome == OutcomeSkipped {
		res.Status = StatusSkipped
		res.Reason = SkipReason
		res.PostID = resolution.Existing.ID
		return res
	}

	res.Status = StatusAdded
	res.PostID = stored.ID
	if im.archiver != nil && raw != nil {
		key := ArchiveKey(rec)
		if err := im.archiver.Put(ctx, key, raw); err != nil {
			im.log.Warn().Err(err).Str("key", key).Msg("keep original archive")
		}
	}
	return res
}

func (im *Importer) logResult(res ItemResult) {
	ev := im.log.Info()
	if res.Status == StatusFailed {
		ev = im.log.Warn().Str("stage", string(res.Stage)).Str("error", res.Error)
	}
	ev.Str("file", res.Name).Str("url", res.SourceURL).Str("status", string(res.Status)).Msg("import item")
}

func failed(res ItemResult, stage Stage, err error) ItemResult {
	res.Status = StatusFailed
	res.Stage = stage
	res.Error = err.Error()
	return res
}
