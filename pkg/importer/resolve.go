package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/YK8349/X-favo-manager/internal/store"
	"github.com/YK8349/X-favo-manager/pkg/post"
)

// Outcome of identity resolution.
type Outcome int

const (
	OutcomeNew Outcome = iota
	OutcomeSkipped
)

// Resolution tells whether a record is already stored.
type Resolution struct {
	Outcome  Outcome
	Key      string
	Existing *post.Stored
}

// Resolve looks up the record's logical identity: the status id when the URL
// has one, the source URL otherwise. Both the archive and the interactive
// entry points go through here.
func Resolve(ctx context.Context, q store.Queries, rec post.Record) (Resolution, error) {
	if rec.SourceURL == "" {
		return Resolution{}, errors.New("record has no source url")
	}
	if id := post.ParseSourceID(rec.SourceURL); id != rec.SourceID {
		return Resolution{}, fmt.Errorf("source id %q does not match url %s", rec.SourceID, rec.SourceURL)
	}

	var (
		existing *post.Stored
		err      error
	)
	if rec.SourceID != "" {
		existing, err = q.FindPostBySourceID(ctx, rec.SourceID)
	} else {
		existing, err = q.FindPostBySourceURL(ctx, rec.SourceURL)
	}

	res := Resolution{Key: rec.IdentityKey()}
	switch {
	case errors.Is(err, store.ErrNotFound):
		res.Outcome = OutcomeNew
		return res, nil
	case err != nil:
		return Resolution{}, fmt.Errorf("resolve %s: %w", res.Key, err)
	}
	res.Outcome = OutcomeSkipped
	res.Existing = existing
	return res, nil
}

// ReconcileTags turns raw names into tag rows, creating the missing ones.
// Names are trimmed; blank names are dropped; the result holds each name once
// in order of first appearance. created counts newly inserted tags.
func ReconcileTags(ctx context.Context, q store.Queries, names []string) (tags []post.Tag, created int, err error) {
	seen := make(map[string]bool, len(names))
	tags = []post.Tag{}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		tag, isNew, err := q.FindOrCreateTag(ctx, name)
		if err != nil {
			return nil, 0, err
		}
		if isNew {
			created++
		}
		tags = append(tags, tag)
	}
	return tags, created, nil
}

func tagIDs(tags []post.Tag) []int64 {
	ids := make([]int64, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids
}
