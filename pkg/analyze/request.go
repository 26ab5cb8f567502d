package analyze

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// defaultMIMEType is assumed when the caller supplies raw bytes that cannot
// be sniffed and no data-URI declares a type.
const defaultMIMEType = "image/png"

// ThinkingLevel selects how much internal reasoning the model spends on the
// request.
type ThinkingLevel string

const (
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
)

// IsValid reports whether l is a recognised thinking level.
func (l ThinkingLevel) IsValid() bool {
	switch l {
	case ThinkingMinimal, ThinkingLow, ThinkingMedium, ThinkingHigh:
		return true
	}
	return false
}

// Request describes one analysis exchange. Image data may be supplied as
// raw bytes (Image) or as a data-URI string (ImageDataURI); exactly one is
// required.
type Request struct {
	Image        []byte
	ImageDataURI string
	Instruction  string
	Thinking     ThinkingLevel
	Streaming    bool
}

// ErrNoImage is returned when a request carries neither raw image bytes nor
// a data URI.
var ErrNoImage = errors.New("analyze: request has no image")

// resolveImage returns the decoded image bytes and their MIME type,
// stripping a leading data:<mime>;base64, prefix when present and
// recovering the declared type from it.
func (r *Request) resolveImage() ([]byte, string, error) {
	if r.ImageDataURI != "" {
		return decodeDataURI(r.ImageDataURI)
	}
	if len(r.Image) == 0 {
		return nil, "", ErrNoImage
	}

	mime := http.DetectContentType(r.Image)
	if !strings.HasPrefix(mime, "image/") {
		mime = defaultMIMEType
	}
	return r.Image, mime, nil
}

// thinking returns the request's thinking level, defaulting to medium.
func (r *Request) thinking() ThinkingLevel {
	if r.Thinking == "" {
		return ThinkingMedium
	}
	return r.Thinking
}

// decodeDataURI splits a data:<mime>;base64,<payload> URI into its decoded
// payload and declared MIME type. A bare base64 string without the prefix
// is accepted and typed as image/png.
func decodeDataURI(uri string) ([]byte, string, error) {
	mime := defaultMIMEType
	payload := uri

	if rest, ok := strings.CutPrefix(uri, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("analyze: malformed data URI")
		}
		if m, _, ok := strings.Cut(header, ";"); ok && m != "" {
			mime = m
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("analyze: decode image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrNoImage
	}
	return data, mime, nil
}
