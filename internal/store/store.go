package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YK8349/X-favo-manager/pkg/post"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ListOpts controls post listing.
type ListOpts struct {
	FolderID *int64
	// Tags restricts to posts carrying every named tag.
	Tags   []string
	Sort   string // "asc" or "desc" on posted_at
	Offset int
	Limit  int
}

// Queries are the operations available both on the store and inside a
// transaction.
type Queries interface {
	GetPost(ctx context.Context, id int64) (*post.Stored, error)
	FindPostBySourceID(ctx context.Context, sourceID string) (*post.Stored, error)
	FindPostBySourceURL(ctx context.Context, sourceURL string) (*post.Stored, error)
	InsertPost(ctx context.Context, p *post.Stored) error
	SetPostTags(ctx context.Context, postID int64, tagIDs []int64) error

	// FindOrCreateTag is atomic per name: concurrent callers get the same row.
	FindOrCreateTag(ctx context.Context, name string) (post.Tag, bool, error)
	FindOrCreateFolder(ctx context.Context, name string) (post.Folder, error)
	GetFolder(ctx context.Context, id int64) (post.Folder, error)
}

// Store is the persistence interface.
type Store interface {
	Queries

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(q Queries) error) error

	ListPosts(ctx context.Context, opts ListOpts) ([]post.Stored, error)
	CountPosts(ctx context.Context) (int, error)

	ListTags(ctx context.Context, offset, limit int) ([]post.Tag, error)
	CountTags(ctx context.Context) (int, error)

	CreateFolder(ctx context.Context, name string) (post.Folder, error)
	GetFolderByName(ctx context.Context, name string) (post.Folder, error)
	ListFolders(ctx context.Context, offset, limit int) ([]post.Folder, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	queries
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	// Times are written in the sortable "2006-01-02 15:04:05.999999999-07:00" form.
	dsn := path + "?_time_format=sqlite&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	if path == ":memory:" {
		dsn = path + "?_time_format=sqlite"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{queries: queries{q: db}, db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit: %w", cerr)
		}
	}()

	return fn(queries{q: tx})
}

func (s *SQLiteStore) ListPosts(ctx context.Context, opts ListOpts) ([]post.Stored, error) {
	query := "SELECT p.* FROM posts p WHERE 1=1"
	var args []any

	if opts.FolderID != nil {
		query += " AND p.folder_id = ?"
		args = append(args, *opts.FolderID)
	}
	for _, name := range opts.Tags {
		query += ` AND EXISTS (
			SELECT 1 FROM post_tags pt JOIN tags t ON t.id = pt.tag_id
			WHERE pt.post_id = p.id AND t.name = ?)`
		args = append(args, name)
	}

	// Missing and approximate timestamps always sort last.
	dir := "DESC"
	if strings.EqualFold(opts.Sort, "asc") {
		dir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY p.posted_at IS NULL, p.posted_at_approx, p.posted_at %s, p.id %s", dir, dir)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	var rows []postRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	posts := make([]post.Stored, 0, len(rows))
	for i := range rows {
		p, err := s.hydrate(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, nil
}

func (s *SQLiteStore) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM posts"); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListTags(ctx context.Context, offset, limit int) ([]post.Tag, error) {
	if limit <= 0 {
		limit = 100
	}
	tags := []post.Tag{}
	err := s.db.SelectContext(ctx, &tags,
		"SELECT id, name FROM tags ORDER BY name LIMIT ? OFFSET ?", limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

func (s *SQLiteStore) CountTags(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM tags"); err != nil {
		return 0, fmt.Errorf("count tags: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CreateFolder(ctx context.Context, name string) (post.Folder, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO folders (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name)
	if err != nil {
		return post.Folder{}, fmt.Errorf("create folder %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return post.Folder{}, fmt.Errorf("folder %q %w", name, ErrAlreadyExists)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return post.Folder{}, fmt.Errorf("create folder %q: %w", name, err)
	}
	return post.Folder{ID: id, Name: name}, nil
}

func (s *SQLiteStore) GetFolderByName(ctx context.Context, name string) (post.Folder, error) {
	var f post.Folder
	err := s.db.GetContext(ctx, &f, "SELECT id, name FROM folders WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return post.Folder{}, fmt.Errorf("folder %q %w", name, ErrNotFound)
	}
	if err != nil {
		return post.Folder{}, fmt.Errorf("get folder %q: %w", name, err)
	}
	return f, nil
}

func (s *SQLiteStore) ListFolders(ctx context.Context, offset, limit int) ([]post.Folder, error) {
	if limit <= 0 {
		limit = 100
	}
	folders := []post.Folder{}
	err := s.db.SelectContext(ctx, &folders,
		"SELECT id, name FROM folders ORDER BY id LIMIT ? OFFSET ?", limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return folders, nil
}

// queries implements Queries over either the database or a transaction.
type queries struct {
	q sqlx.ExtContext
}

type postRow struct {
	ID              int64          `db:"id"`
	SourceURL       string         `db:"source_url"`
	SourceID        sql.NullString `db:"source_id"`
	Body            string         `db:"body_text"`
	AuthorName      string         `db:"author_name"`
	AuthorHandle    string         `db:"author_handle"`
	AuthorAvatarURL string         `db:"author_avatar_url"`
	PostedAt        sql.NullTime   `db:"posted_at"`
	PostedAtApprox  bool           `db:"posted_at_approx"`
	MediaJSON       string         `db:"media_urls"`
	EngagementCount int            `db:"engagement_count"`
	FolderID        sql.NullInt64  `db:"folder_id"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r *postRow) toStored() (*post.Stored, error) {
	p := &post.Stored{
		ID: r.ID,
		Record: post.Record{
			SourceURL:       r.SourceURL,
			SourceID:        r.SourceID.String,
			Body:            r.Body,
			AuthorName:      r.AuthorName,
			AuthorHandle:    r.AuthorHandle,
			AuthorAvatarURL: r.AuthorAvatarURL,
			PostedAtApprox:  r.PostedAtApprox,
			EngagementCount: r.EngagementCount,
			MediaURLs:       []string{},
		},
		Tags:      []post.Tag{},
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.PostedAt.Valid {
		t := r.PostedAt.Time.UTC()
		p.PostedAt = &t
	}
	if r.FolderID.Valid {
		id := r.FolderID.Int64
		p.FolderID = &id
	}
	if r.MediaJSON != "" {
		if err := json.Unmarshal([]byte(r.MediaJSON), &p.MediaURLs); err != nil {
			return nil, fmt.Errorf("decode media of post %d: %w", r.ID, err)
		}
	}
	return p, nil
}

// hydrate loads the folder and tags of a post row.
func (q queries) hydrate(ctx context.Context, r *postRow) (*post.Stored, error) {
	p, err := r.toStored()
	if err != nil {
		return nil, err
	}

	if err := sqlx.SelectContext(ctx, q.q, &p.Tags, `
		SELECT t.id, t.name FROM tags t
		JOIN post_tags pt ON pt.tag_id = t.id
		WHERE pt.post_id = ?
		ORDER BY pt.rowid
	`, p.ID); err != nil {
		return nil, fmt.Errorf("load tags of post %d: %w", p.ID, err)
	}

	if p.FolderID != nil {
		f, err := q.GetFolder(ctx, *p.FolderID)
		if err != nil {
			return nil, fmt.Errorf("load folder of post %d: %w", p.ID, err)
		}
		p.Folder = &f
	}
	return p, nil
}

func (q queries) findPost(ctx context.Context, what, where string, arg any) (*post.Stored, error) {
	var row postRow
	err := sqlx.GetContext(ctx, q.q, &row, "SELECT * FROM posts WHERE "+where+" ORDER BY id LIMIT 1", arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", what, err)
	}
	return q.hydrate(ctx, &row)
}

func (q queries) GetPost(ctx context.Context, id int64) (*post.Stored, error) {
	return q.findPost(ctx, fmt.Sprintf("%d", id), "id = ?", id)
}

func (q queries) FindPostBySourceID(ctx context.Context, sourceID string) (*post.Stored, error) {
	return q.findPost(ctx, "status "+sourceID, "source_id = ?", sourceID)
}

func (q queries) FindPostBySourceURL(ctx context.Context, sourceURL string) (*post.Stored, error) {
	return q.findPost(ctx, sourceURL, "source_url = ?", sourceURL)
}

// InsertPost stores p and sets its ID and CreatedAt. Tags on p are ignored;
// use SetPostTags.
func (q queries) InsertPost(ctx context.Context, p *post.Stored) error {
	media := p.MediaURLs
	if media == nil {
		media = []string{}
	}
	mediaJSON, _ := json.Marshal(media)

	var sourceID sql.NullString
	if p.SourceID != "" {
		sourceID = sql.NullString{String: p.SourceID, Valid: true}
	}
	var postedAt sql.NullTime
	if p.PostedAt != nil {
		postedAt = sql.NullTime{Time: p.PostedAt.UTC(), Valid: true}
	}
	var folderID sql.NullInt64
	if p.FolderID != nil {
		folderID = sql.NullInt64{Int64: *p.FolderID, Valid: true}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO posts (source_url, source_id, body_text, author_name, author_handle, author_avatar_url,
			posted_at, posted_at_approx, media_urls, engagement_count, folder_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.SourceURL, sourceID, p.Body, p.AuthorName, p.AuthorHandle, p.AuthorAvatarURL,
		postedAt, p.PostedAtApprox, string(mediaJSON), p.EngagementCount, folderID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.SourceURL, err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.SourceURL, err)
	}
	return nil
}

// SetPostTags replaces the full tag set of a post. Order of tagIDs is kept.
func (q queries) SetPostTags(ctx context.Context, postID int64, tagIDs []int64) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM post_tags WHERE post_id = ?", postID); err != nil {
		return fmt.Errorf("clear tags of post %d: %w", postID, err)
	}
	for _, id := range tagIDs {
		if _, err := q.q.ExecContext(ctx,
			"INSERT OR IGNORE INTO post_tags (post_id, tag_id) VALUES (?, ?)", postID, id); err != nil {
			return fmt.Errorf("tag post %d with %d: %w", postID, id, err)
		}
	}
	return nil
}

func (q queries) FindOrCreateTag(ctx context.Context, name string) (post.Tag, bool, error) {
	res, err := q.q.ExecContext(ctx, "INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name)
	if err != nil {
		return post.Tag{}, false, fmt.Errorf("create tag %q: %w", name, err)
	}
	created := false
	if n, _ := res.RowsAffected(); n == 1 {
		created = true
	}

	var t post.Tag
	if err := sqlx.GetContext(ctx, q.q, &t, "SELECT id, name FROM tags WHERE name = ?", name); err != nil {
		return post.Tag{}, false, fmt.Errorf("get tag %q: %w", name, err)
	}
	return t, created, nil
}

func (q queries) FindOrCreateFolder(ctx context.Context, name string) (post.Folder, error) {
	if _, err := q.q.ExecContext(ctx, "INSERT INTO folders (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name); err != nil {
		return post.Folder{}, fmt.Errorf("create folder %q: %w", name, err)
	}
	var f post.Folder
	if err := sqlx.GetContext(ctx, q.q, &f, "SELECT id, name FROM folders WHERE name = ?", name); err != nil {
		return post.Folder{}, fmt.Errorf("get folder %q: %w", name, err)
	}
	return f, nil
}

func (q queries) GetFolder(ctx context.Context, id int64) (post.Folder, error) {
	var f post.Folder
	err := sqlx.GetContext(ctx, q.q, &f, "SELECT id, name FROM folders WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return post.Folder{}, fmt.Errorf("folder %d %w", id, ErrNotFound)
	}
	if err != nil {
		return post.Folder{}, fmt.Errorf("get folder %d: %w", id, err)
	}
	return f, nil
}
