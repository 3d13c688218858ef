package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://FindECNU.libsp.cn/find/unify/search", "findecnu.libsp.cn"},
		{"no scheme", "findecnu.libsp.cn/find", "findecnu.libsp.cn"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpersUpdateCollectors(t *testing.T) {
	Init()
	Init()

	ObservePage("metrics-test", PagePersisted)
	ObservePage("metrics-test", PagePersisted)
	ObserveRecordsInserted("metrics-test", 7)
	ObserveRecordsInserted("metrics-test", 0)
	ObserveCountQuery("metrics-test", true)
	ObservePartition("metrics-test", "small")
	ObserveRetry("metrics-test-endpoint")
	ObserveSearchRequest("metrics-test-endpoint", "ok", 20*time.Millisecond)

	if val := testutil.ToFloat64(harvesterPagesTotal.WithLabelValues("metrics-test", PagePersisted)); val != 2 {
		t.Errorf("expected 2 persisted pages, got %f", val)
	}
	if val := testutil.ToFloat64(harvesterRecordsInsertedTotal.WithLabelValues("metrics-test")); val != 7 {
		t.Errorf("expected 7 inserted records, got %f", val)
	}
	if val := testutil.ToFloat64(harvesterCountQueriesTotal.WithLabelValues("metrics-test", "cache")); val != 1 {
		t.Errorf("expected 1 cached count query, got %f", val)
	}
	if val := testutil.ToFloat64(searchRetriesTotal.WithLabelValues("metrics-test-endpoint")); val != 1 {
		t.Errorf("expected 1 retry, got %f", val)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"https://findecnu.libsp.cn", "findpku.libsp.cn", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
