package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"nriva-archiver/lib/fetch"
	"nriva-archiver/lib/scrapers/nriva/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("scrapers/nriva/search")

// ProfileId is the site's opaque key for one profile. The walker owns
// producing them; everything downstream treats them read-only.
type ProfileId string

type WalkerOptions struct {
	// rows requested per page
	PageLength int
	// hard stop against a remote pagination bug that never terminates
	MaxPages int
}

type Walker struct {
	client *core.Client
	sched  *fetch.Scheduler
	opts   WalkerOptions
}

func NewWalker(client *core.Client, sched *fetch.Scheduler, opts WalkerOptions) *Walker {
	if opts.PageLength <= 0 {
		opts.PageLength = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	return &Walker{client: client, sched: sched, opts: opts}
}

// page is the DataTables-style payload the search endpoint returns.
type page struct {
	Data         []map[string]any `json:"data"`
	RecordsTotal int              `json:"recordsTotal"`
}

// Walk runs one complete search: page 1 onward, strictly in order, each
// page requested through the retry scheduler. Identifiers repeated by
// the remote side across pages are yielded once. A walk is not
// restartable; call Walk again to re-issue every page request.
func (w *Walker) Walk(ctx context.Context, criteria Criteria) ([]ProfileId, error) {
	ctx, span := tracer.Start(ctx, "walker:Walk")
	defer span.End()

	body := BuildSearchBody(criteria)
	seen := map[ProfileId]bool{}
	var ids []ProfileId

	for pageNum := 0; pageNum < w.opts.MaxPages; pageNum++ {
		if ctx.Err() != nil {
			return ids, ctx.Err()
		}

		pageBody := cloneValues(body)
		pageBody.Set("draw", strconv.Itoa(pageNum+1))
		pageBody.Set("start", strconv.Itoa(pageNum*w.opts.PageLength))
		pageBody.Set("length", strconv.Itoa(w.opts.PageLength))

		out := fetch.Do(ctx, w.sched, fetch.Op{
			Kind: "search-page",
			Id:   strconv.Itoa(pageNum + 1),
		}, func(ctx context.Context) fetch.Outcome[page] {
			return w.fetchPage(ctx, pageBody)
		})
		if out.Class != fetch.ClassSuccess {
			return ids, fmt.Errorf("search page %d: %w", pageNum+1, out.Err)
		}

		added := 0
		for _, row := range out.Value.Data {
			id := identifierFromRow(row)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
			added++
		}

		slog.InfoContext(
			ctx, "walked search page",
			"page", pageNum+1,
			"rows", len(out.Value.Data),
			"new", added,
			"total_known", out.Value.RecordsTotal,
		)

		if len(out.Value.Data) == 0 || added == 0 {
			break
		}
		if len(out.Value.Data) < w.opts.PageLength {
			break
		}
	}

	span.SetAttributes(attribute.Int("identifiers", len(ids)))
	return ids, nil
}

func (w *Walker) fetchPage(ctx context.Context, body url.Values) fetch.Outcome[page] {
	res, err := w.client.Request(ctx, "POST", w.client.Endpoints.SearchApiPath, body)
	if err != nil {
		return fetch.Retryable[page](err)
	}
	if res.StatusCode() >= 400 {
		return fetch.Retryable[page](fmt.Errorf("search endpoint returned %d", res.StatusCode()))
	}

	var p page
	if err := json.Unmarshal(res.Body(), &p); err != nil {
		// a truncated or interstitial response; the page itself may be fine
		// on the next attempt
		return fetch.Retryable[page](fmt.Errorf("malformed search response: %w", err))
	}
	return fetch.Success(p)
}

// rows are loosely-typed JSON objects; the identifier has moved between
// keys across site revisions
func identifierFromRow(row map[string]any) ProfileId {
	for _, key := range []string{"member_id", "profile_id", "id"} {
		switch v := row[key].(type) {
		case string:
			if v != "" {
				return ProfileId(v)
			}
		case float64:
			return ProfileId(strconv.FormatInt(int64(v), 10))
		}
	}
	return ""
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
