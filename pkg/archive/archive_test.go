package archive_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/YK8349/X-favo-manager/internal/fixture"
	"github.com/YK8349/X-favo-manager/pkg/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const location = "https://x.com/someone/status/12345"

func TestDecodeQuotedPrintable(t *testing.T) {
	markup := `<html><body><p class="a">café = ☕</p></body></html>`
	data := fixture.HTMLArchive(location, markup)

	snap, err := archive.DecodeBytes(data)
	require.NoError(t, err)

	assert.Equal(t, location, snap.SourceURL)
	assert.Equal(t, markup, snap.Markup)
	assert.Equal(t, "utf-8", snap.Charset)
}

func TestDecodeBase64(t *testing.T) {
	markup := "<html><body>" + string(bytes.Repeat([]byte("long line of text "), 20)) + "</body></html>"
	data := fixture.MHTML(location, fixture.Part{
		ContentType: "text/html; charset=utf-8",
		Encoding:    "base64",
		Body:        markup,
	})

	snap, err := archive.DecodeBytes(data)
	require.NoError(t, err)
	assert.Equal(t, markup, snap.Markup)
}

func TestDecodeLegacyCharset(t *testing.T) {
	data := fixture.MHTML(location, fixture.Part{
		ContentType: "text/html; charset=windows-1252",
		Encoding:    "quoted-printable",
		Body:        "<p>caf\xe9</p>",
	})

	snap, err := archive.DecodeBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "<p>café</p>", snap.Markup)
}

func TestDecodeSkipsResourcesBeforeHTML(t *testing.T) {
	data := fixture.MHTML(location,
		fixture.Part{ContentType: "text/css", Body: "body{}"},
		fixture.Part{ContentType: "image/png", Encoding: "base64", Body: "\x89PNG"},
		fixture.Part{ContentType: "text/html", Encoding: "quoted-printable", Body: "<p>first</p>"},
		fixture.Part{ContentType: "text/html", Encoding: "quoted-printable", Body: "<p>second</p>"},
	)

	snap, err := archive.DecodeBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "<p>first</p>", snap.Markup)
}

func TestDecodeNoHTMLPart(t *testing.T) {
	data := fixture.MHTML(location,
		fixture.Part{ContentType: "text/css", Body: "body{}"},
		fixture.Part{ContentType: "image/png", Encoding: "base64", Body: "\x89PNG"},
	)

	_, err := archive.DecodeBytes(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrNoHTMLPart)
	assert.Equal(t, "no HTML content found", err.Error())

	var de *archive.DecodeError
	assert.True(t, errors.As(err, &de))
}

func TestDecodeMissingLocation(t *testing.T) {
	data := fixture.HTMLArchive("", "<p>orphan</p>")

	_, err := archive.DecodeBytes(data)
	assert.ErrorIs(t, err, archive.ErrMissingSourceLocation)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := archive.DecodeBytes([]byte("this is not a mime message"))
	assert.ErrorIs(t, err, archive.ErrUndecodable)
}

func TestDecodeUnknownCharset(t *testing.T) {
	data := fixture.MHTML(location, fixture.Part{
		ContentType: "text/html; charset=x-no-such-charset",
		Body:        "<p>x</p>",
	})

	_, err := archive.DecodeBytes(data)
	assert.ErrorIs(t, err, archive.ErrUndecodable)
}

func TestDecoderSizeLimit(t *testing.T) {
	data := fixture.HTMLArchive(location, "<p>"+string(bytes.Repeat([]byte("x"), 2048))+"</p>")

	_, err := archive.NewDecoder(1024).Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, archive.ErrTooLarge)

	snap, err := archive.NewDecoder(int64(len(data))).Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, location, snap.SourceURL)
}

func TestNewDecoderDefault(t *testing.T) {
	assert.Equal(t, int64(archive.DefaultMaxBytes), archive.NewDecoder(0).MaxBytes)
}
