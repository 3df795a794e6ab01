package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := crawlerPagesTotal
	Init()

	if crawlerPagesTotal == nil || crawlerRobotsFetchesTotal == nil ||
		crawlerTasksTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
	if first != crawlerPagesTotal {
		t.Fatal("Init() replaced collectors on second call")
	}
}

func TestObservePage(t *testing.T) {
	before := testutil.ToFloat64(crawlerPagesTotalFor("pages.example", PageStatusFetched))
	ObservePage("https://Pages.example/a", PageStatusFetched, 512)
	after := testutil.ToFloat64(crawlerPagesTotalFor("pages.example", PageStatusFetched))
	if after-before != 1 {
		t.Errorf("expected page counter to grow by 1, got %f", after-before)
	}
	if got := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("pages.example")); got < 512 {
		t.Errorf("expected at least 512 bytes recorded, got %f", got)
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveRobotsFetch(RobotsStatusFailOpen)
	if got := testutil.ToFloat64(crawlerRobotsFetchesTotal.WithLabelValues(RobotsStatusFailOpen)); got < 1 {
		t.Errorf("expected fail-open counter >= 1, got %f", got)
	}

	ObserveTask("succeeded")
	if got := testutil.ToFloat64(crawlerTasksTotal.WithLabelValues("succeeded")); got < 1 {
		t.Errorf("expected task counter >= 1, got %f", got)
	}

	before := testutil.ToFloat64(crawlerCandidatesScoredTotal)
	ObserveCandidatesScored(3)
	ObserveCandidatesScored(0)
	if got := testutil.ToFloat64(crawlerCandidatesScoredTotal) - before; got != 3 {
		t.Errorf("expected 3 scored candidates, got %f", got)
	}

	ObserveResultStored(false)
	if got := testutil.ToFloat64(crawlerResultsStoredTotal.WithLabelValues("error")); got < 1 {
		t.Errorf("expected store error counter >= 1, got %f", got)
	}

	ObserveRateLimitDelay("delay.example", 250*time.Millisecond)
	if got := testutil.CollectAndCount(crawlerRateLimitDelaysSeconds); got == 0 {
		t.Error("expected rate limit histogram to be observed")
	}
}

func crawlerPagesTotalFor(site, status string) prometheus.Counter {
	Init()
	return crawlerPagesTotal.WithLabelValues(site, status)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
