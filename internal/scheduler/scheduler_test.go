package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanq16/stager/internal/transfer"
)

type slowFetcher struct {
	active atomic.Int32
	peak   atomic.Int32
	mu     sync.Mutex
	seen   []string
}

func (f *slowFetcher) Fetch(ctx context.Context, sourceURL, route string) (*transfer.Outcome, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	f.mu.Lock()
	f.seen = append(f.seen, sourceURL)
	f.mu.Unlock()
	if strings.HasSuffix(sourceURL, "missing.zip") {
		return &transfer.Outcome{Kind: transfer.NonSuccessStatus, Source: sourceURL}, errors.New("unexpected status code: 404")
	}
	return &transfer.Outcome{Kind: transfer.Success, Source: sourceURL}, nil
}

func TestRunBoundsWorkersAndKeepsOrder(t *testing.T) {
	var jobs []Job
	for _, name := range []string{"a", "b", "missing", "c", "d", "e"} {
		jobs = append(jobs, Job{Route: "fec", URL: "https://example.com/" + name + ".zip"})
	}
	f := &slowFetcher{}
	results := Run(context.Background(), jobs, 2, f)
	if len(results) != len(jobs) {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.Job != jobs[i] || r.Outcome == nil || r.Outcome.Source != jobs[i].URL {
			t.Fatalf("result %d = %+v", i, r)
		}
	}
	if results[2].Err == nil || results[2].Outcome.Kind != transfer.NonSuccessStatus {
		t.Fatalf("missing result = %+v", results[2])
	}
	if f.peak.Load() > 2 {
		t.Fatalf("peak concurrency %d", f.peak.Load())
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &slowFetcher{}
	results := Run(ctx, []Job{{Route: "irs", URL: "https://example.com/a.csv"}}, 4, f)
	if !errors.Is(results[0].Err, context.Canceled) || len(f.seen) != 0 {
		t.Fatalf("results = %+v", results)
	}
}

func TestParseManifest(t *testing.T) {
	manifest := `
irs:
  - https://apps.irs.gov/pub/epostcard/990/xml/{year}/index_{year}.csv
fec:
  - https://www.fec.gov/files/bulk-downloads/2024/cm24.zip
  - link: https://www.fec.gov/files/bulk-downloads/2024/cn24.zip
`
	jobs, err := ParseManifest(strings.NewReader(manifest), 2025)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Job{
		{Route: "fec", URL: "https://www.fec.gov/files/bulk-downloads/2024/cm24.zip"},
		{Route: "fec", URL: "https://www.fec.gov/files/bulk-downloads/2024/cn24.zip"},
		{Route: "irs", URL: "https://apps.irs.gov/pub/epostcard/990/xml/2025/index_2025.csv"},
	}
	if len(jobs) != len(want) {
		t.Fatalf("jobs = %+v", jobs)
	}
	for i := range want {
		if jobs[i] != want[i] {
			t.Fatalf("job %d = %+v, want %+v", i, jobs[i], want[i])
		}
	}
}

func TestParseManifestErrors(t *testing.T) {
	for _, manifest := range []string{"", "fec: []\n", "fec:\n  - link: ''\n", "fec: [a, [b]]\n", "- just a list\n"} {
		if _, err := ParseManifest(strings.NewReader(manifest), 2025); err == nil {
			t.Fatalf("expected error for %q", manifest)
		}
	}
}
