package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nriva-archiver/lib/fetch"
	"nriva-archiver/lib/scrapers/nriva/core"
	"nriva-archiver/lib/scrapers/nriva/profile"
	"nriva-archiver/lib/scrapers/nriva/search"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/archiver")

// Summary is the user-visible result of one run. Every discovered
// profile lands in exactly one bucket; nothing is dropped silently.
type Summary struct {
	Discovered int
	Succeeded  int
	Partial    int
	Failed     int
	MediaOk    int
	MediaFail  int
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"%d discovered: %d succeeded, %d partial (missing fields), %d failed; media %d ok / %d failed",
		s.Discovered, s.Succeeded, s.Partial, s.Failed, s.MediaOk, s.MediaFail,
	)
}

type Service struct {
	client    *core.Client
	sched     *fetch.Scheduler
	walker    *search.Walker
	extractor *profile.Extractor
	media     *profile.MediaFetcher
	archive   Archive
}

func NewService(client *core.Client, sched *fetch.Scheduler, walker *search.Walker, archive Archive) *Service {
	return &Service{
		client:    client,
		sched:     sched,
		walker:    walker,
		extractor: profile.NewExtractor(client),
		media:     profile.NewMediaFetcher(client),
		archive:   archive,
	}
}

// Run executes one complete batch: login, walk the search results, then
// sequentially extract each profile and download its media. A fatal
// outcome on a single profile is recorded and skipped; a fatal login
// aborts the batch, since nothing downstream can proceed without a
// session. Cancellation is honored between operations, never mid-request.
func (s *Service) Run(ctx context.Context, criteria search.Criteria) (Summary, error) {
	ctx, span := tracer.Start(ctx, "archiver:Run")
	defer span.End()

	var summary Summary

	if s.client.HasCredentials() {
		out := fetch.Do(ctx, s.sched, fetch.Op{Kind: "login"}, s.client.Login)
		if out.Class != fetch.ClassSuccess {
			span.SetStatus(codes.Error, "login failed")
			return summary, fmt.Errorf("login failed, aborting batch: %w", out.Err)
		}
	} else {
		slog.WarnContext(ctx, "no credentials configured, proceeding with public access only")
	}

	ids, err := s.walker.Walk(ctx, criteria)
	if err != nil {
		return summary, fmt.Errorf("search walk: %w", err)
	}
	summary.Discovered = len(ids)
	slog.InfoContext(ctx, "search complete", "profiles", len(ids))

	for i, id := range ids {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		slog.InfoContext(ctx, "processing profile", "id", id, "n", i+1, "of", len(ids))

		out := fetch.Do(ctx, s.sched, fetch.Op{Kind: "profile", Id: string(id)}, func(ctx context.Context) fetch.Outcome[profile.Record] {
			return s.extractor.Extract(ctx, id)
		})
		if out.Class != fetch.ClassSuccess {
			summary.Failed++
			if errors.Is(out.Err, core.ErrBadCredentials) {
				// the session died mid-batch and re-login was rejected;
				// every remaining request would fail the same way
				span.SetStatus(codes.Error, "session lost")
				return summary, fmt.Errorf("session could not be restored, aborting batch: %w", out.Err)
			}
			slog.WarnContext(ctx, "profile failed", "id", id, "err", out.Err)
			continue
		}

		rec := out.Value
		if err := s.archive.WriteRecord(rec); err != nil {
			return summary, fmt.Errorf("write record %s: %w", rec.Id, err)
		}
		if missing := rec.MissingFields(); len(missing) > 0 {
			summary.Partial++
			slog.DebugContext(ctx, "record has absent fields", "id", rec.Id, "missing", missing)
		} else {
			summary.Succeeded++
		}

		if err := s.fetchProfileMedia(ctx, rec, &summary); err != nil {
			span.SetStatus(codes.Error, "session lost")
			return summary, fmt.Errorf("session could not be restored, aborting batch: %w", err)
		}
	}

	slog.InfoContext(ctx, "batch finished", "summary", summary.String())
	return summary, nil
}

// fetchProfileMedia downloads one record's media. The returned error is
// non-nil only when the session is gone for good; per-file failures are
// counted and skipped.
func (s *Service) fetchProfileMedia(ctx context.Context, rec profile.Record, summary *Summary) error {
	for i, ref := range rec.ImageRefs {
		if ctx.Err() != nil {
			return nil
		}
		out := fetch.Do(ctx, s.sched, fetch.Op{Kind: "image", Id: fmt.Sprintf("%s/%d", rec.Id, i)}, func(ctx context.Context) fetch.Outcome[[]byte] {
			return s.media.FetchMedia(ctx, ref, profile.MediaImage)
		})
		if out.Class != fetch.ClassSuccess {
			summary.MediaFail++
			if errors.Is(out.Err, core.ErrBadCredentials) {
				return out.Err
			}
			continue
		}
		if _, err := s.archive.WriteImage(rec.Id, i, ref, out.Value); err != nil {
			slog.ErrorContext(ctx, "write image", "id", rec.Id, "err", err)
			summary.MediaFail++
			continue
		}
		summary.MediaOk++
	}

	if rec.HoroscopeRef == nil {
		return nil
	}
	ref := *rec.HoroscopeRef
	out := fetch.Do(ctx, s.sched, fetch.Op{Kind: "horoscope", Id: rec.Id}, func(ctx context.Context) fetch.Outcome[[]byte] {
		return s.media.FetchMedia(ctx, ref, profile.MediaHoroscope)
	})
	if out.Class != fetch.ClassSuccess {
		summary.MediaFail++
		if errors.Is(out.Err, core.ErrBadCredentials) {
			return out.Err
		}
		return nil
	}
	if _, err := s.archive.WriteHoroscope(rec.Id, ref, out.Value); err != nil {
		slog.ErrorContext(ctx, "write horoscope", "id", rec.Id, "err", err)
		summary.MediaFail++
		return nil
	}
	summary.MediaOk++
	return nil
}
