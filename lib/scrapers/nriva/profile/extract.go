package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"nriva-archiver/lib/fetch"
	"nriva-archiver/lib/htmlutil"
	"nriva-archiver/lib/scrapers/nriva/core"
	"nriva-archiver/lib/scrapers/nriva/search"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/nriva/profile")

var (
	ErrNotFound     = errors.New("profile not found")
	ErrAccessDenied = errors.New("profile access restricted")
)

type Extractor struct {
	client *core.Client
}

func NewExtractor(client *core.Client) *Extractor {
	return &Extractor{client: client}
}

// Extract fetches one profile document and maps it to a Record. A page
// that is missing individual attributes still produces a record; only a
// document with no recognizable profile structure at all is retried, to
// cover transient truncated responses. Not-found and access-restricted
// pages are fatal: refetching cannot change authorization state.
func (e *Extractor) Extract(ctx context.Context, id search.ProfileId) fetch.Outcome[Record] {
	ctx, span := tracer.Start(ctx, "extractor:Extract")
	defer span.End()
	span.SetAttributes(attribute.String("id", string(id)))

	res, err := e.fetchDocument(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied) ||
			errors.Is(err, core.ErrNotLoggedIn) || errors.Is(err, core.ErrBadCredentials) {
			span.SetStatus(codes.Error, err.Error())
			return fetch.Fatal[Record](err)
		}
		return fetch.Retryable[Record](err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return fetch.Retryable[Record](err)
	}
	if isAccessDenied(doc) {
		span.SetStatus(codes.Error, ErrAccessDenied.Error())
		return fetch.Fatal[Record](ErrAccessDenied)
	}
	if !hasProfileStructure(doc) {
		return fetch.Retryable[Record](fmt.Errorf("no recognizable profile structure for %s", id))
	}

	rec := e.parse(doc, id)
	rec.Raw = res.Body()
	return fetch.Success(rec)
}

func (e *Extractor) fetchDocument(ctx context.Context, id search.ProfileId) (*resty.Response, error) {
	var lastErr error
	for _, pattern := range e.client.Endpoints.ProfilePatterns {
		path := fmt.Sprintf(pattern, id)
		res, err := e.client.Request(ctx, "GET", path, nil)
		if err != nil {
			// a dead session fails the same way on every pattern; trying
			// the rest would only fire more doomed re-logins
			if errors.Is(err, core.ErrSessionExpired) || errors.Is(err, core.ErrNotLoggedIn) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if res.StatusCode() == 404 {
			lastErr = fmt.Errorf("%w: %s", ErrNotFound, path)
			continue
		}
		if res.StatusCode() == 403 {
			return nil, ErrAccessDenied
		}
		if res.StatusCode() >= 400 {
			lastErr = fmt.Errorf("profile page %s returned %d", path, res.StatusCode())
			continue
		}
		return res, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no profile url patterns configured", ErrNotFound)
	}
	return nil, lastErr
}

var horoscopeLink = regexp.MustCompile(`(?i)horoscope|kundali|\.pdf`)

func (e *Extractor) parse(doc *goquery.Document, id search.ProfileId) Record {
	r := Record{Id: string(id)}

	if v, ok := htmlutil.LabeledValue(doc, "Profile ID"); ok && v != "" {
		r.Id = v
	}
	r.Name = htmlutil.CleanText(doc.Find("h4.OpenSans-Semibold").First().Text())
	if r.Name == "" {
		r.Name = htmlutil.CleanText(doc.Find("h4").First().Text())
	}

	if v, ok := htmlutil.LabeledValue(doc, "Age"); ok {
		if age, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			r.Age = &age
		}
	}
	if v, ok := htmlutil.LabeledValue(doc, "Gender"); ok {
		r.Gender = v
	}
	if v, ok := htmlutil.LabeledValue(doc, "Marital Status"); ok {
		r.MaritalStatus = v
	}
	if v, ok := htmlutil.LabeledValue(doc, "Location"); ok {
		r.Location = v
	}

	r.Email = optional(doc, "Email")
	r.Phone = optional(doc, "Phone")
	r.EducationLevel = optional(doc, "Education Level")
	r.Profession = optional(doc, "Profession")
	r.Height = optional(doc, "Height")
	r.ZodiacSign = optional(doc, "Zodiac Sign")

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		r.ImageRefs = append(r.ImageRefs, src)
	})

	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok || !horoscopeLink.MatchString(href) {
			return true
		}
		r.HoroscopeRef = &href
		r.HoroscopeAvailable = true
		return false
	})

	return r
}

func optional(doc *goquery.Document, label string) *string {
	v, ok := htmlutil.LabeledValue(doc, label)
	if !ok || v == "" {
		return nil
	}
	return &v
}

func isAccessDenied(doc *goquery.Document) bool {
	text := strings.ToLower(doc.Text())
	return strings.Contains(text, "access restricted") ||
		strings.Contains(text, "not authorized") ||
		strings.Contains(text, "upgrade your membership")
}

// a plausible profile page has either a detail table with a profile id
// row or the profile image block; anything else is treated as a
// truncated or interstitial response
func hasProfileStructure(doc *goquery.Document) bool {
	if _, ok := htmlutil.LabeledValue(doc, "Profile ID"); ok {
		return true
	}
	return doc.Find("img.userprofileimage").Length() > 0
}
