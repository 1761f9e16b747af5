package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/YK8349/X-favo-manager/internal/store"
	"github.com/YK8349/X-favo-manager/pkg/post"
)

var ErrNoSourceID = errors.New("url does not contain a status id")

// CreateRequest adds a single post by URL.
type CreateRequest struct {
	URL      string   `json:"url"`
	FolderID *int64   `json:"folder_id,omitempty"`
	Tags     []string `json:"tags"`
}

// Create stores the post behind req.URL unless its identity is already
// stored, in which case the existing post is returned with created=false.
// A page that cannot be rendered or extracted is still bookmarked with a
// minimal record.
func (im *Importer) Create(ctx context.Context, req CreateRequest) (p *post.Stored, created bool, err error) {
	id := post.ParseSourceID(req.URL)
	if id == "" {
		return nil, false, fmt.Errorf("%s: %w", req.URL, ErrNoSourceID)
	}

	existing, err := im.store.FindPostBySourceID(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	rec := im.render(ctx, req.URL)

	var postID int64
	err = im.store.WithTx(ctx, func(q store.Queries) error {
		res, err := Resolve(ctx, q, rec)
		if err != nil {
			return err
		}
		if res.Outcome == OutcomeSkipped {
			postID = res.Existing.ID
			return nil
		}

		if req.FolderID != nil {
			if _, err := q.GetFolder(ctx, *req.FolderID); err != nil {
				return err
			}
		}
		sp := &post.Stored{Record: rec, FolderID: req.FolderID}
		if err := q.InsertPost(ctx, sp); err != nil {
			return err
		}
		tags, _, err := ReconcileTags(ctx, q, req.Tags)
		if err != nil {
			return err
		}
		if err := q.SetPostTags(ctx, sp.ID, tagIDs(tags)); err != nil {
			return err
		}
		postID, created = sp.ID, true
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	if err != nil {
		return nil, false, &StorageError{Err: err}
	}

	p, err = im.store.GetPost(ctx, postID)
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

func (im *Importer) render(ctx context.Context, url string) post.Record {
	fallback := post.NewRecord(url)
	fallback.Body = post.ScrapeFailed

	if im.renderer == nil {
		return fallback
	}
	root, err := im.renderer.Render(ctx, url)
	if err != nil {
		im.log.Warn().Err(err).Str("url", url).Msg("render page")
		return fallback
	}
	ex, err := im.extractor.Extract(root, url)
	if err != nil {
		im.log.Warn().Err(err).Str("url", url).Msg("extract page")
		return fallback
	}
	return ex.Record
}

// ReplaceTags sets the complete tag set of a post.
func (im *Importer) ReplaceTags(ctx context.Context, postID int64, names []string) (*post.Stored, error) {
	err := im.store.WithTx(ctx, func(q store.Queries) error {
		if _, err := q.GetPost(ctx, postID); err != nil {
			return err
		}
		tags, created, err := ReconcileTags(ctx, q, names)
		if err != nil {
			return err
		}
		if created > 0 {
			im.log.Debug().Int64("post_id", postID).Int("created", created).Msg("new tags")
		}
		return q.SetPostTags(ctx, postID, tagIDs(tags))
	})
	if err != nil {
		return nil, err
	}
	return im.store.GetPost(ctx, postID)
}
