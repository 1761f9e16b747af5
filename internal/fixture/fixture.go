// Package fixture builds MHTML archives and post pages for tests.
package fixture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
)

// Boundary separates the parts of built archives.
const Boundary = "----MultipartBoundary--xfavoFixture"

// Part is one MIME part of an archive.
type Part struct {
	ContentType string
	// Encoding is the Content-Transfer-Encoding: "quoted-printable",
	// "base64" or empty for raw 8bit.
	Encoding string
	Location string
	Body     string
}

// MHTML assembles a multipart/related archive. An empty location omits the
// Snapshot-Content-Location header.
func MHTML(location string, parts ...Part) []byte {
	var buf bytes.Buffer
	buf.WriteString("From: <Saved by Blink>\r\n")
	if location != "" {
		fmt.Fprintf(&buf, "Snapshot-Content-Location: %s\r\n", location)
	}
	buf.WriteString("Subject: saved page\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/related;\r\n\ttype=\"text/html\";\r\n\tboundary=\"%s\"\r\n\r\n", Boundary)

	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(Boundary); err != nil {
		panic(err)
	}
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.ContentType)
		if p.Encoding != "" {
			h.Set("Content-Transfer-Encoding", p.Encoding)
		}
		if p.Location != "" {
			h.Set("Content-Location", p.Location)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			panic(err)
		}
		w.Write(encode(p.Encoding, p.Body))
	}
	mw.Close()
	return buf.Bytes()
}

// HTMLArchive is an archive holding markup as a quoted-printable UTF-8 part,
// the way browsers save pages.
func HTMLArchive(location, markup string) []byte {
	return MHTML(location, Part{
		ContentType: "text/html; charset=utf-8",
		Encoding:    "quoted-printable",
		Location:    location,
		Body:        markup,
	})
}

func encode(encoding, body string) []byte {
	switch encoding {
	case "quoted-printable":
		var buf bytes.Buffer
		qw := quotedprintable.NewWriter(&buf)
		qw.Write([]byte(body))
		qw.Close()
		return buf.Bytes()
	case "base64":
		enc := base64.StdEncoding.EncodeToString([]byte(body))
		var buf bytes.Buffer
		for len(enc) > 76 {
			buf.WriteString(enc[:76] + "\r\n")
			enc = enc[76:]
		}
		buf.WriteString(enc)
		return buf.Bytes()
	}
	return []byte(body)
}

// Post describes a rendered post page. Empty fields leave their region out
// of the markup.
type Post struct {
	Name     string
	Handle   string
	Body     string
	Datetime string
	Photos   []string
	Avatar   string
}

// Page renders p the way the platform marks up a post.
func Page(p Post) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>post</title></head><body><main>`)
	b.WriteString(`<article data-testid="tweet" role="article"><div class="r-1">`)

	if p.Avatar != "" {
		fmt.Fprintf(&b, `<div data-testid="UserAvatar-Container-%s"><a href="/%s"><img src="%s" alt=""></a></div>`,
			html.EscapeString(p.Handle), html.EscapeString(p.Handle), html.EscapeString(p.Avatar))
	}
	if p.Name != "" {
		b.WriteString(`<div data-testid="User-Name">`)
		fmt.Fprintf(&b, `<div><a href="/%s"><div><span class="css-1"><span>%s</span></span></div></a></div>`,
			html.EscapeString(p.Handle), html.EscapeString(p.Name))
		if p.Handle != "" {
			fmt.Fprintf(&b, `<div><a href="/%s"><div><span>@%s</span></div></a></div>`,
				html.EscapeString(p.Handle), html.EscapeString(p.Handle))
		}
		b.WriteString(`</div>`)
	}
	if p.Body != "" {
		b.WriteString(`<div data-testid="tweetText" lang="en">`)
		for i, line := range strings.Split(p.Body, "\n") {
			if i > 0 {
				b.WriteString(`<br>`)
			}
			fmt.Fprintf(&b, `<span>%s</span>`, html.EscapeString(line))
		}
		b.WriteString(`</div>`)
	}
	if p.Datetime != "" {
		fmt.Fprintf(&b, `<a href="/%s/status/1"><time datetime="%s">display time</time></a>`,
			html.EscapeString(p.Handle), html.EscapeString(p.Datetime))
	}
	for _, src := range p.Photos {
		fmt.Fprintf(&b, `<div data-testid="tweetPhoto"><img alt="Image" src="%s"></div>`, html.EscapeString(src))
	}

	b.WriteString(`</div></article></main></body></html>`)
	return b.String()
}

// PostArchive is a saved post page at location.
func PostArchive(location string, p Post) []byte {
	return HTMLArchive(location, Page(p))
}
