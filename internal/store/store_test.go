package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/YK8349/X-favo-manager/pkg/post"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "xfavo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ts(day int) *time.Time {
	t := time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC)
	return &t
}

func insert(t *testing.T, s *SQLiteStore, url string, postedAt *time.Time) *post.Stored {
	t.Helper()
	p := &post.Stored{Record: post.NewRecord(url)}
	p.PostedAt = postedAt
	require.NoError(t, s.InsertPost(context.Background(), p))
	return p
}

func TestInsertAndGetPost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := post.NewRecord("https://x.com/a/status/100")
	rec.Body = "hello\nworld"
	rec.AuthorName, rec.AuthorHandle = "A", "a"
	rec.PostedAt = ts(3)
	rec.MediaURLs = []string{"https://pbs.twimg.com/media/X.jpg" + post.MediaSuffix}
	p := &post.Stored{Record: rec}
	require.NoError(t, s.InsertPost(ctx, p))
	require.NotZero(t, p.ID)

	got, err := s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.SourceURL, got.SourceURL)
	assert.Equal(t, "100", got.SourceID)
	assert.Equal(t, "hello\nworld", got.Body)
	assert.Equal(t, rec.MediaURLs, got.MediaURLs)
	require.NotNil(t, got.PostedAt)
	assert.True(t, rec.PostedAt.Equal(*got.PostedAt))
	assert.False(t, got.PostedAtApprox)
	assert.Empty(t, got.Tags)
	assert.Nil(t, got.Folder)

	byID, err := s.FindPostBySourceID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byID.ID)

	byURL, err := s.FindPostBySourceURL(ctx, rec.SourceURL)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byURL.ID)
}

func TestGetPostNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPost(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindPostBySourceID(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSourceIDUnique(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, "https://x.com/a/status/7", nil)

	dup := &post.Stored{Record: post.NewRecord("https://twitter.com/a/status/7")}
	assert.Error(t, s.InsertPost(context.Background(), dup))
}

func TestPostsWithoutSourceID(t *testing.T) {
	s := newTestStore(t)
	a := insert(t, s, "https://example.com/one", nil)
	b := insert(t, s, "https://example.com/two", nil)
	assert.NotEqual(t, a.ID, b.ID)

	got, err := s.FindPostBySourceURL(context.Background(), "https://example.com/two")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Empty(t, got.SourceID)
}

func TestFindOrCreateTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.FindOrCreateTag(ctx, "go")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.FindOrCreateTag(ctx, "go")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, again)

	n, err := s.CountTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFindOrCreateTagConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int64]bool{}
		created int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(q Queries) error {
				tag, isNew, err := q.FindOrCreateTag(ctx, "shared")
				if err != nil {
					return err
				}
				mu.Lock()
				ids[tag.ID] = true
				if isNew {
					created++
				}
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func TestSetPostTagsKeepsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := insert(t, s, "https://x.com/a/status/1", nil)

	var ids []int64
	for _, name := range []string{"zeta", "alpha", "mid"} {
		tag, _, err := s.FindOrCreateTag(ctx, name)
		require.NoError(t, err)
		ids = append(ids, tag.ID)
	}
	require.NoError(t, s.SetPostTags(ctx, p.ID, ids))

	got, err := s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Tags, 3)
	assert.Equal(t, "zeta", got.Tags[0].Name)
	assert.Equal(t, "alpha", got.Tags[1].Name)
	assert.Equal(t, "mid", got.Tags[2].Name)

	require.NoError(t, s.SetPostTags(ctx, p.ID, ids[2:]))
	got, err = s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "mid", got.Tags[0].Name)
}

func TestWithTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(q Queries) error {
		if _, _, err := q.FindOrCreateTag(ctx, "ghost"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.CountTags(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFolders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, err := s.CreateFolder(ctx, "reading")
	require.NoError(t, err)
	assert.NotZero(t, f.ID)

	_, err = s.CreateFolder(ctx, "reading")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	same, err := s.FindOrCreateFolder(ctx, "reading")
	require.NoError(t, err)
	assert.Equal(t, f, same)

	byName, err := s.GetFolderByName(ctx, "reading")
	require.NoError(t, err)
	assert.Equal(t, f, byName)

	_, err = s.GetFolderByName(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	folders, err := s.ListFolders(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []post.Folder{f}, folders)
}

func TestGetFolder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, err := s.CreateFolder(ctx, "reading")
	require.NoError(t, err)

	got, err := s.GetFolder(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	_, err = s.GetFolder(ctx, f.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCorruptMediaIsReported(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := insert(t, s, "https://x.com/a/status/55", ts(1))

	_, err := s.db.ExecContext(ctx, "UPDATE posts SET media_urls = '[\"broken' WHERE id = ?", p.ID)
	require.NoError(t, err)

	_, err = s.GetPost(ctx, p.ID)
	assert.ErrorContains(t, err, "decode media of post")

	_, err = s.ListPosts(ctx, ListOpts{})
	assert.Error(t, err)
}

func TestListPostsSortAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := insert(t, s, "https://x.com/a/status/1", ts(1))
	newest := insert(t, s, "https://x.com/a/status/2", ts(20))
	undated := insert(t, s, "https://x.com/a/status/3", nil)
	mid := insert(t, s, "https://x.com/a/status/4", ts(10))

	approx := &post.Stored{Record: post.NewRecord("https://x.com/a/status/5")}
	approx.PostedAt, approx.PostedAtApprox = ts(28), true
	require.NoError(t, s.InsertPost(ctx, approx))

	ids := func(posts []post.Stored) []int64 {
		out := make([]int64, len(posts))
		for i, p := range posts {
			out[i] = p.ID
		}
		return out
	}

	desc, err := s.ListPosts(ctx, ListOpts{Sort: "desc"})
	require.NoError(t, err)
	assert.Equal(t, []int64{newest.ID, mid.ID, old.ID, approx.ID, undated.ID}, ids(desc))

	asc, err := s.ListPosts(ctx, ListOpts{Sort: "asc"})
	require.NoError(t, err)
	assert.Equal(t, []int64{old.ID, mid.ID, newest.ID, approx.ID, undated.ID}, ids(asc))

	paged, err := s.ListPosts(ctx, ListOpts{Sort: "desc", Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{mid.ID, old.ID}, ids(paged))

	// Tag filter has AND semantics.
	a, _, err := s.FindOrCreateTag(ctx, "a")
	require.NoError(t, err)
	b, _, err := s.FindOrCreateTag(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, s.SetPostTags(ctx, old.ID, []int64{a.ID, b.ID}))
	require.NoError(t, s.SetPostTags(ctx, mid.ID, []int64{a.ID}))

	both, err := s.ListPosts(ctx, ListOpts{Tags: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{old.ID}, ids(both))

	onlyA, err := s.ListPosts(ctx, ListOpts{Tags: []string{"a"}, Sort: "asc"})
	require.NoError(t, err)
	assert.Equal(t, []int64{old.ID, mid.ID}, ids(onlyA))

	folder, err := s.CreateFolder(ctx, "f")
	require.NoError(t, err)
	inFolder := &post.Stored{Record: post.NewRecord("https://x.com/a/status/6"), FolderID: &folder.ID}
	require.NoError(t, s.InsertPost(ctx, inFolder))

	filtered, err := s.ListPosts(ctx, ListOpts{FolderID: &folder.ID})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, inFolder.ID, filtered[0].ID)
	require.NotNil(t, filtered[0].Folder)
	assert.Equal(t, "f", filtered[0].Folder.Name)

	n, err := s.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestListTagsOrderedByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"c", "a", "b"} {
		_, _, err := s.FindOrCreateTag(ctx, name)
		require.NoError(t, err)
	}

	tags, err := s.ListTags(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{tags[0].Name, tags[1].Name, tags[2].Name})

	tags, err = s.ListTags(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "b", tags[0].Name)
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xfavo.db")
	s, err := New(path)
	require.NoError(t, err)
	insert(t, s, "https://x.com/a/status/1", nil)
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
