// Package archive decodes MHTML snapshots: a single MIME message bundling a
// page's markup and resources. Only the first HTML part and the
// Snapshot-Content-Location header are of interest.
package archive

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"golang.org/x/net/html/charset"
)

// LocationHeader holds the canonical URL of the snapshotted page.
const LocationHeader = "Snapshot-Content-Location"

// DefaultMaxBytes bounds the size of an accepted archive.
const DefaultMaxBytes = 32 << 20

var (
	ErrNoHTMLPart            = errors.New("no HTML content found")
	ErrMissingSourceLocation = errors.New("could not find " + LocationHeader + " header")
	ErrUndecodable           = errors.New("undecodable archive")
	ErrTooLarge              = errors.New("archive exceeds size limit")
)

// DecodeError reports why an archive produced no markup. Reason is one of the
// Err* sentinels.
type DecodeError struct {
	Reason error
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%v: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// Snapshot is a decoded archive.
type Snapshot struct {
	SourceURL string
	Markup    string
	Charset   string
}

// Decoder reads archives up to MaxBytes.
type Decoder struct {
	MaxBytes int64
}

// NewDecoder returns a Decoder bounded by maxBytes, or DefaultMaxBytes when
// maxBytes <= 0.
func NewDecoder(maxBytes int64) *Decoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Decoder{MaxBytes: maxBytes}
}

// Decode reads one archive from r.
func (d *Decoder) Decode(r io.Reader) (*Snapshot, error) {
	data, err := d.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(data)
}

// ReadAll reads the raw archive bytes, failing with ErrTooLarge past MaxBytes.
func (d *Decoder) ReadAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, d.MaxBytes+1))
	if err != nil {
		return nil, &DecodeError{Reason: ErrUndecodable, Err: err}
	}
	if int64(len(data)) > d.MaxBytes {
		return nil, &DecodeError{Reason: ErrTooLarge, Err: fmt.Errorf("limit %d bytes", d.MaxBytes)}
	}
	return data, nil
}

// DecodeBytes decodes an in-memory archive.
func DecodeBytes(data []byte) (*Snapshot, error) {
	msg, err := mail.ReadMessage(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, &DecodeError{Reason: ErrUndecodable, Err: fmt.Errorf("read message header: %w", err)}
	}

	body, cs, err := findHTML(textproto.MIMEHeader(msg.Header), msg.Body)
	if err != nil {
		return nil, err
	}

	location := strings.TrimSpace(msg.Header.Get(LocationHeader))
	if location == "" {
		return nil, &DecodeError{Reason: ErrMissingSourceLocation}
	}

	markup, err := decodeCharset(body, cs)
	if err != nil {
		return nil, &DecodeError{Reason: ErrUndecodable, Err: err}
	}

	return &Snapshot{SourceURL: location, Markup: markup, Charset: cs}, nil
}

// findHTML walks the entity depth-first and returns the transfer-decoded
// payload and declared charset of the first text/html part.
func findHTML(h textproto.MIMEHeader, body io.Reader) ([]byte, string, error) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		// RFC 2045 default.
		mediaType, params = "text/plain", map[string]string{}
	}

	switch {
	case mediaType == "text/html":
		payload, err := io.ReadAll(transferDecoder(h.Get("Content-Transfer-Encoding"), body))
		if err != nil {
			return nil, "", &DecodeError{Reason: ErrUndecodable, Err: fmt.Errorf("read html part: %w", err)}
		}
		return payload, params["charset"], nil

	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, "", &DecodeError{Reason: ErrUndecodable, Err: errors.New("multipart without boundary")}
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, "", &DecodeError{Reason: ErrUndecodable, Err: fmt.Errorf("next part: %w", err)}
			}
			payload, cs, err := findHTML(part.Header, part)
			if err == nil {
				return payload, cs, nil
			}
			if !errors.Is(err, ErrNoHTMLPart) {
				return nil, "", err
			}
		}
	}

	return nil, "", &DecodeError{Reason: ErrNoHTMLPart}
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	}
	return r
}

func decodeCharset(payload []byte, label string) (string, error) {
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return string(payload), nil
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("charset %q: %w", label, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode charset %q: %w", label, err)
	}
	return string(out), nil
}
