package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nriva-archiver/lib/fetch"
	"nriva-archiver/lib/scrapers/nriva/search"
	"nriva-archiver/services/archiver/db"
)

// DbRecorder persists terminal outcomes to the run's sqlite log as the
// scheduler reports them.
type DbRecorder struct {
	Store db.Store
}

func (r DbRecorder) Record(e fetch.Entry) {
	// recording happens on the scheduler's goroutine mid-batch; a failed
	// insert should not take the batch down with it
	if err := r.Store.InsertOutcome(context.Background(), e); err != nil {
		slog.Error("failed to persist outcome", "kind", e.Kind, "id", e.Id, "err", err)
	}
}

// WriteReport renders the human-readable run report into the archive's
// data directory.
func WriteReport(archive Archive, criteria search.Criteria, summary Summary, entries []fetch.Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Profile scraping report\n")
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Criteria: %s\n", describeCriteria(criteria))
	fmt.Fprintf(&b, "Result: %s\n\n", summary.String())

	fatal := 0
	for _, e := range entries {
		if e.Class != fetch.ClassFatal {
			continue
		}
		if fatal == 0 {
			fmt.Fprintf(&b, "Failures:\n")
		}
		fatal++
		fmt.Fprintf(&b, "- %s %s: %s (after %d attempts)\n", e.Kind, e.Id, e.Err, e.Attempts)
	}
	if fatal == 0 {
		fmt.Fprintf(&b, "No failures.\n")
	}

	path := filepath.Join(archive.DataDir(), "scraping_report.txt")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func describeCriteria(c search.Criteria) string {
	parts := []string{"gender=" + c.Gender}
	if c.MinAge != nil {
		parts = append(parts, fmt.Sprintf("min_age=%d", *c.MinAge))
	}
	if c.MaxAge != nil {
		parts = append(parts, fmt.Sprintf("max_age=%d", *c.MaxAge))
	}
	if c.Citizenship != nil {
		parts = append(parts, "citizenship="+*c.Citizenship)
	}
	if c.EducationLevel != nil {
		parts = append(parts, "education="+*c.EducationLevel)
	}
	if c.MaritalStatus != nil {
		parts = append(parts, "marital_status="+*c.MaritalStatus)
	}
	return strings.Join(parts, ", ")
}
