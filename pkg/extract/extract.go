// Package extract turns a document tree into a post.Record.
//
// Only the post container is mandatory. Every other field is looked up
// independently and falls back to a documented default when its marker is
// missing, so one broken region of the page never costs the whole record.
package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YK8349/X-favo-manager/pkg/dom"
	"github.com/YK8349/X-favo-manager/pkg/post"
)

// Markers used by the source platform.
var (
	PostContainer = dom.Marker{Element: "article", Value: "tweet"}
	AuthorBlock   = dom.Marker{Value: "User-Name"}
	BodyText      = dom.Marker{Value: "tweetText"}
	Timestamp     = dom.Marker{Element: "time"}
	Photo         = dom.Marker{Value: "tweetPhoto"}
	Image         = dom.Marker{Element: "img"}
	TextRun       = dom.Marker{Element: "span"}

	AvatarPrefix = "UserAvatar-Container-"
)

var ErrNoPostContainer = errors.New("could not find the main post container")

// ExtractionError is returned when no record can be produced at all.
type ExtractionError struct {
	SourceURL string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.SourceURL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Miss records a field that fell back to its default.
type Miss struct {
	Field  string
	Reason string
}

// Result is an extracted record plus the fields that were not found.
type Result struct {
	Record post.Record
	Misses []Miss
}

// Extractor reads records from document trees. Now is the clock used for the
// approximate timestamp fallback.
type Extractor struct {
	Now func() time.Time
}

// New returns an Extractor using the wall clock.
func New() *Extractor {
	return &Extractor{Now: time.Now}
}

// Extract reads one record from root. sourceURL is the canonical page
// location; it is never derived from the document.
func (e *Extractor) Extract(root dom.Node, sourceURL string) (*Result, error) {
	if sourceURL == "" {
		return nil, &ExtractionError{Err: errors.New("empty source url")}
	}
	article, ok := root.FindFirst(PostContainer)
	if !ok {
		return nil, &ExtractionError{SourceURL: sourceURL, Err: ErrNoPostContainer}
	}

	res := &Result{Record: post.NewRecord(sourceURL)}
	rec := &res.Record
	miss := func(field string, err error) {
		res.Misses = append(res.Misses, Miss{Field: field, Reason: err.Error()})
	}

	name, handle, err := author(article)
	if name != "" {
		rec.AuthorName = name
	}
	if handle != "" {
		rec.AuthorHandle = handle
	}
	if err != nil {
		miss("author", err)
	}

	if body, err := bodyText(article); err != nil {
		miss("body", err)
	} else {
		rec.Body = body
	}

	if ts, err := postedAt(article); err != nil {
		miss("posted_at", err)
		now := e.now()
		rec.PostedAt = &now
		rec.PostedAtApprox = true
	} else {
		rec.PostedAt = &ts
	}

	rec.MediaURLs = mediaURLs(article)

	if avatar, err := avatarURL(article); err != nil {
		miss("avatar", err)
	} else {
		rec.AuthorAvatarURL = avatar
	}

	return res, nil
}

func (e *Extractor) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// author reads the display name from the first text run of the author block
// and the handle from the block that follows the one holding the name. A
// found name is returned even when the handle is missing.
func author(article dom.Node) (string, string, error) {
	block, ok := article.FindFirst(AuthorBlock)
	if !ok {
		return "", "", errors.New("no author block")
	}

	name := ""
	for _, span := range block.FindAll(TextRun) {
		if t := strings.TrimSpace(span.Text()); t != "" {
			name = t
			break
		}
	}
	if name == "" {
		return "", "", errors.New("author block has no text")
	}

	handle := ""
	for _, child := range block.Children() {
		if !strings.Contains(child.Text(), name) {
			continue
		}
		if next, ok := child.NextSibling(); ok {
			handle = joinRuns(next)
		}
		break
	}
	if handle == "" {
		// Flattened markup: the handle is the run starting with '@'.
		for _, span := range block.FindAll(TextRun) {
			if t := strings.TrimSpace(span.Text()); strings.HasPrefix(t, "@") {
				handle = t
				break
			}
		}
	}
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return name, "", errors.New("no handle after display name")
	}
	return name, handle, nil
}

func joinRuns(n dom.Node) string {
	runs := n.FindAll(TextRun)
	if len(runs) == 0 {
		return n.Text()
	}
	var b strings.Builder
	for _, r := range runs {
		// Nested spans would otherwise be counted twice.
		if len(r.FindAll(TextRun)) > 0 {
			continue
		}
		b.WriteString(r.Text())
	}
	return b.String()
}

func bodyText(article dom.Node) (string, error) {
	node, ok := article.FindFirst(BodyText)
	if !ok {
		return "", errors.New("no text block")
	}
	return strings.Join(node.Lines(), "\n"), nil
}

func postedAt(article dom.Node) (time.Time, error) {
	node, ok := article.FindFirst(Timestamp)
	if !ok {
		return time.Time{}, errors.New("no time element")
	}
	raw, ok := node.Attr("datetime")
	if !ok || strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("time element has no datetime")
	}
	return ParseTimestamp(raw)
}

// timestampLayouts are tried in order. Fractional seconds are optional in
// every layout with a time part.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	time.DateOnly,
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing Z is read as an
// explicit +00:00 offset; timestamps without an offset are taken as UTC. A
// space may separate the date and time.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasSuffix(raw, "Z") {
		raw = strings.TrimSuffix(raw, "Z") + "+00:00"
	}
	if len(raw) > 10 && raw[10] == ' ' {
		raw = raw[:10] + "T" + raw[11:]
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable datetime %q", raw)
}

func mediaURLs(article dom.Node) []string {
	urls := []string{}
	for _, photo := range article.FindAll(Photo) {
		img, ok := photo.FindFirst(Image)
		if !ok {
			continue
		}
		if src, ok := img.Attr("src"); ok && src != "" {
			urls = append(urls, post.NormalizeMediaURL(src))
		}
	}
	return urls
}

func avatarURL(article dom.Node) (string, error) {
	container, ok := article.FindByMarkerPrefix(AvatarPrefix)
	if !ok {
		return "", errors.New("no avatar container")
	}
	img, ok := container.FindFirst(Image)
	if !ok {
		return "", errors.New("avatar container has no image")
	}
	src, ok := img.Attr("src")
	if !ok || src == "" {
		return "", errors.New("avatar image has no src")
	}
	return src, nil
}
