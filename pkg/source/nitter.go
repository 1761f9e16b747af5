// Package source collects post records from feeds, as an alternative to
// saved archives.
package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/YK8349/X-favo-manager/pkg/dom"
	"github.com/YK8349/X-favo-manager/pkg/post"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

// CanonicalHost replaces the mirror host in collected links.
const CanonicalHost = "https://x.com"

// Nitter collects recent posts of accounts through Nitter RSS feeds.
type Nitter struct {
	client    *http.Client
	parser    *gofeed.Parser
	nitterURL string
	accounts  []string
	since     time.Duration
	log       zerolog.Logger
}

// NewNitter creates a collector. Entries older than since are dropped; zero
// keeps everything in the feed.
func NewNitter(nitterURL string, accounts []string, since time.Duration, log zerolog.Logger) *Nitter {
	if nitterURL == "" {
		nitterURL = "https://nitter.net"
	}
	return &Nitter{
		client:    &http.Client{Timeout: 30 * time.Second},
		parser:    gofeed.NewParser(),
		nitterURL: strings.TrimRight(nitterURL, "/"),
		accounts:  accounts,
		since:     since,
		log:       log.With().Str("component", "nitter").Logger(),
	}
}

// Collect fetches every account. An account that fails is logged and skipped.
func (n *Nitter) Collect(ctx context.Context) ([]post.Record, error) {
	var all []post.Record
	for _, account := range n.accounts {
		recs, err := n.collectAccount(ctx, account)
		if err != nil {
			n.log.Warn().Err(err).Str("account", account).Msg("collect account")
			continue
		}
		all = append(all, recs...)
	}
	return all, ctx.Err()
}

func (n *Nitter) collectAccount(ctx context.Context, account string) ([]post.Record, error) {
	feedURL := fmt.Sprintf("%s/%s/rss", n.nitterURL, account)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create nitter request @%s: %w", account, err)
	}
	req.Header.Set("User-Agent", "xfavo/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch nitter @%s: %w", account, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nitter @%s status %d", account, resp.StatusCode)
	}

	feed, err := n.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse nitter @%s: %w", account, err)
	}

	var cutoff time.Time
	if n.since > 0 {
		cutoff = time.Now().Add(-n.since)
	}

	var recs []post.Record
	for _, entry := range feed.Items {
		link := n.canonicalLink(entry.Link)
		if link == "" || post.ParseSourceID(link) == "" {
			continue
		}

		rec := post.NewRecord(link)
		if entry.PublishedParsed != nil {
			if entry.PublishedParsed.Before(cutoff) {
				continue
			}
			t := entry.PublishedParsed.UTC()
			rec.PostedAt = &t
		} else {
			t := time.Now().UTC()
			rec.PostedAt = &t
			rec.PostedAtApprox = true
		}

		rec.AuthorHandle = account
		rec.AuthorName = account
		if entry.Author != nil && entry.Author.Name != "" {
			rec.AuthorName = strings.TrimPrefix(entry.Author.Name, "@")
		}
		if feed.Image != nil && feed.Image.URL != "" {
			rec.AuthorAvatarURL = feed.Image.URL
		}
		rec.Body = entryText(entry)
		rec.MediaURLs = entryMedia(entry)

		recs = append(recs, rec)
	}
	return recs, nil
}

// canonicalLink rewrites a mirror link to the canonical host and drops the
// fragment Nitter appends.
func (n *Nitter) canonicalLink(link string) string {
	link, _, _ = strings.Cut(link, "#")
	return strings.Replace(link, n.nitterURL, CanonicalHost, 1)
}

func entryText(entry *gofeed.Item) string {
	if entry.Description == "" {
		return entry.Title
	}
	root, err := dom.ParseString(entry.Description)
	if err != nil {
		return entry.Title
	}
	return strings.Join(root.Lines(), "\n")
}

func entryMedia(entry *gofeed.Item) []string {
	urls := []string{}
	if entry.Description == "" {
		return urls
	}
	root, err := dom.ParseString(entry.Description)
	if err != nil {
		return urls
	}
	for _, img := range root.FindAll(dom.Marker{Element: "img"}) {
		if src, ok := img.Attr("src"); ok && src != "" {
			urls = append(urls, post.NormalizeMediaURL(src))
		}
	}
	return urls
}
