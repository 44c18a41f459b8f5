package restyutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Output receives one rendered HTTP exchange per completed request.
type Output interface {
	Write(id string, contents string)
}

// TranscriptDir writes each exchange to its own file. The directory is
// cleared on creation; transcripts describe one run only.
type TranscriptDir struct {
	directory string
}

func NewTranscriptDir(dir string) (TranscriptDir, error) {
	if err := os.RemoveAll(dir); err != nil {
		return TranscriptDir{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return TranscriptDir{}, err
	}
	return TranscriptDir{directory: dir}, nil
}

func (o TranscriptDir) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id+".txt"), []byte(contents), 0o600)
	if err != nil {
		slog.Warn("failed to write http transcript", "id", id, "err", err)
	}
}

// RecordTranscripts registers hooks that dump every completed exchange
// to the output. Intended for debugging scrapes against markup that
// changed underneath us; tracing stays with the telemetry middleware.
func RecordTranscripts(client *resty.Client, output Output) {
	if output == nil {
		return
	}
	var counter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
		output.Write(id, formatExchange(res))
		return nil
	})
}
