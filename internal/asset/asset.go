// Package asset downloads a generated image by locator and returns it in a
// self-contained form (base64 content plus media type) that the browser can
// embed directly.
package asset

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultMediaType is used when neither the response header nor the bytes
// identify an image type. The provider returns JPEGs.
const DefaultMediaType = "image/jpeg"

var (
	// ErrNoLocator means a success result carried no usable asset URL.
	ErrNoLocator = errors.New("result has no asset locator")
	// ErrFetch wraps every failure to retrieve an asset that does exist.
	ErrFetch = errors.New("asset fetch failed")
	// ErrTooLarge is returned (wrapped in ErrFetch) when an asset exceeds the size cap.
	ErrTooLarge = errors.New("asset too large")
	// ErrUnsupportedScheme is returned (wrapped in ErrFetch) for unknown locator schemes.
	ErrUnsupportedScheme = errors.New("unsupported asset scheme")
	// ErrNotImage is returned (wrapped in ErrFetch) when the source declares
	// a specific non-image type and the bytes do not look like an image.
	ErrNotImage = errors.New("asset is not an image")
)

// genericTypes carry no information about the content. Object stores
// default to them, so they are not taken as a claim that the asset is
// something other than an image.
var genericTypes = map[string]bool{
	"application/octet-stream": true,
	"binary/octet-stream":      true,
}

// Encoded is an asset ready to hand to the client.
type Encoded struct {
	Base64    string `json:"base64"`
	MediaType string `json:"mediaType"`
	Size      int    `json:"-"`
}

// Fetcher retrieves an asset by locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*Encoded, error)
}

// Router dispatches to a Fetcher by locator scheme. S3 may be nil when the
// deployment has no AWS credentials.
type Router struct {
	HTTP Fetcher
	S3   Fetcher
}

// Compile-time interface check.
var _ Fetcher = (*Router)(nil)

func (r *Router) Fetch(ctx context.Context, locator string) (*Encoded, error) {
	if strings.TrimSpace(locator) == "" {
		return nil, ErrNoLocator
	}
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: parse locator: %v", ErrFetch, err)
	}

	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		f = r.HTTP
	case "s3":
		f = r.S3
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %w %q", ErrFetch, ErrUnsupportedScheme, u.Scheme)
	}
	return f.Fetch(ctx, locator)
}

// encode builds an Encoded from raw bytes, resolving the media type from the
// declared content type first and the bytes second.
func encode(body []byte, declared string) (*Encoded, error) {
	mediaType, err := resolveMediaType(declared, body)
	if err != nil {
		return nil, err
	}
	return &Encoded{
		Base64:    base64.StdEncoding.EncodeToString(body),
		MediaType: mediaType,
		Size:      len(body),
	}, nil
}

func resolveMediaType(declared string, body []byte) (string, error) {
	var mt string
	if declared != "" {
		if parsed, _, err := mime.ParseMediaType(declared); err == nil {
			mt = parsed
		}
	}
	if strings.HasPrefix(mt, "image/") {
		return mt, nil
	}
	if sniffed := http.DetectContentType(body); strings.HasPrefix(sniffed, "image/") {
		return sniffed, nil
	}
	if mt != "" && !genericTypes[mt] {
		return "", fmt.Errorf("%w: %w: declared %s", ErrFetch, ErrNotImage, mt)
	}
	log.Warn().
		Str("declared", declared).
		Int("bytes", len(body)).
		Str("assumed", DefaultMediaType).
		Msg("Asset media type unknown, relaying with default type")
	return DefaultMediaType, nil
}
