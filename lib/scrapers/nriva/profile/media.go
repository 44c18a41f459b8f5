package profile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"nriva-archiver/lib/fetch"
	"nriva-archiver/lib/scrapers/nriva/core"
)

type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaHoroscope
)

func (k MediaKind) String() string {
	if k == MediaHoroscope {
		return "horoscope"
	}
	return "image"
}

var ErrMediaInvalid = errors.New("media response failed validation")

// anything smaller is an error page or an empty placeholder, not media
const minMediaBytes = 128

type MediaFetcher struct {
	client *core.Client
}

func NewMediaFetcher(client *core.Client) *MediaFetcher {
	return &MediaFetcher{client: client}
}

// FetchMedia downloads one media reference. Size and content-type
// mismatches are classified Retryable: a proxy or CDN hiccup serves the
// wrong body transiently, and the shared retry policy turns a persistent
// mismatch into a Fatal outcome.
func (m *MediaFetcher) FetchMedia(ctx context.Context, ref string, kind MediaKind) fetch.Outcome[[]byte] {
	link, err := m.resolve(ref)
	if err != nil {
		return fetch.Fatal[[]byte](err)
	}

	res, err := m.client.Request(ctx, "GET", link, nil)
	if err != nil {
		if errors.Is(err, core.ErrBadCredentials) || errors.Is(err, core.ErrNotLoggedIn) {
			return fetch.Fatal[[]byte](err)
		}
		return fetch.Retryable[[]byte](err)
	}
	if res.StatusCode() == 404 {
		return fetch.Fatal[[]byte](fmt.Errorf("%w: %s", ErrNotFound, link))
	}
	if res.StatusCode() >= 400 {
		return fetch.Retryable[[]byte](fmt.Errorf("media %s returned %d", link, res.StatusCode()))
	}

	body := res.Body()
	if len(body) < minMediaBytes {
		return fetch.Retryable[[]byte](fmt.Errorf("%w: %d bytes from %s", ErrMediaInvalid, len(body), link))
	}
	if !contentTypeMatches(res.Header().Get("content-type"), kind) {
		return fetch.Retryable[[]byte](fmt.Errorf(
			"%w: %s served as %q", ErrMediaInvalid, kind, res.Header().Get("content-type"),
		))
	}
	return fetch.Success(body)
}

// relative references are resolved against the site base; absolute ones
// pass through untouched
func (m *MediaFetcher) resolve(ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: bad media url %q", ErrMediaInvalid, ref)
	}
	if parsed.IsAbs() {
		return ref, nil
	}
	return m.client.BaseUrl.ResolveReference(parsed).String(), nil
}

func contentTypeMatches(contentType string, kind MediaKind) bool {
	if contentType == "" {
		// some static file servers omit the header; size validation still applies
		return true
	}
	switch kind {
	case MediaHoroscope:
		return strings.Contains(contentType, "application/pdf") ||
			strings.Contains(contentType, "application/octet-stream")
	default:
		return strings.HasPrefix(contentType, "image/") ||
			strings.Contains(contentType, "application/octet-stream")
	}
}
