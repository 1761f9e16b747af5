package post

import (
	"regexp"
	"strings"
	"time"
)

// Sentinels stored when a field could not be extracted. They differ from an
// empty string so "extracted empty" and "extraction failed" stay distinguishable.
const (
	BodyNotFound  = "not found"
	UnknownAuthor = "unknown"
	ScrapeFailed  = "failed to scrape post data"
)

// MediaSuffix asks the image host for the original, non-cropped rendition.
const MediaSuffix = "?format=jpg&name=orig"

var statusIDPattern = regexp.MustCompile(`status/(\d+)`)

// Record is the canonical, source-agnostic representation of one post.
type Record struct {
	SourceURL       string     `json:"source_url"`
	SourceID        string     `json:"source_id,omitempty"`
	Body            string     `json:"body_text"`
	AuthorName      string     `json:"author_display_name"`
	AuthorHandle    string     `json:"author_handle"`
	PostedAt        *time.Time `json:"posted_at,omitempty"`
	PostedAtApprox  bool       `json:"posted_at_approximate"`
	MediaURLs       []string   `json:"media_urls"`
	AuthorAvatarURL string     `json:"author_avatar_url,omitempty"`
	EngagementCount int        `json:"engagement_count"`
}

// NewRecord returns a record for sourceURL with every extracted field set to
// its fallback value.
func NewRecord(sourceURL string) Record {
	return Record{
		SourceURL:    sourceURL,
		SourceID:     ParseSourceID(sourceURL),
		Body:         BodyNotFound,
		AuthorName:   UnknownAuthor,
		AuthorHandle: UnknownAuthor,
		MediaURLs:    []string{},
	}
}

// IdentityKey is the logical identity of the record: the numeric status id
// when the URL carries one, the URL itself otherwise.
func (r Record) IdentityKey() string {
	if r.SourceID != "" {
		return r.SourceID
	}
	return r.SourceURL
}

// ParseSourceID returns the digits following "status/" in u, or "".
func ParseSourceID(u string) string {
	m := statusIDPattern.FindStringSubmatch(u)
	if m == nil {
		return ""
	}
	return m[1]
}

// NormalizeMediaURL drops everything from the first '?' and requests the
// original quality rendition. Normalizing twice yields the same URL.
func NormalizeMediaURL(src string) string {
	base, _, _ := strings.Cut(src, "?")
	return base + MediaSuffix
}

// Tag is a flat, globally unique label.
type Tag struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Folder groups posts. Names are globally unique.
type Folder struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Stored is a persisted post.
type Stored struct {
	ID int64 `json:"id" db:"id"`
	Record
	FolderID  *int64    `json:"folder_id,omitempty"`
	Folder    *Folder   `json:"folder,omitempty"`
	Tags      []Tag     `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}
