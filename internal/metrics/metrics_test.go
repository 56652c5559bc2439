package metrics

import (
	"errors"
	"testing"
	"time"

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

func TestObserveFetch(t *testing.T) {
	ok := fetchRequestsTotal.WithLabelValues("fetch.example", "false", "true", OutcomeSuccess)
	failed := fetchRequestsTotal.WithLabelValues("fetch.example", "true", "true", OutcomeFailure)
	bytes := fetchBytesTotal.WithLabelValues("fetch.example")
	beforeOK, beforeFailed, beforeBytes := testutil.ToFloat64(ok), testutil.ToFloat64(failed), testutil.ToFloat64(bytes)

	ObserveFetch("https://fetch.example/pages/a", false, true, nil, 42, time.Millisecond)
	ObserveFetch("https://fetch.example/pages/a", true, true, errors.New("boom"), 0, time.Millisecond)

	if got := testutil.ToFloat64(ok) - beforeOK; got != 1 {
		t.Errorf("expected one successful fetch, got %f", got)
	}
	if got := testutil.ToFloat64(failed) - beforeFailed; got != 1 {
		t.Errorf("expected one failed fetch, got %f", got)
	}
	if got := testutil.ToFloat64(bytes) - beforeBytes; got != 42 {
		t.Errorf("expected 42 bytes, got %f", got)
	}
}

func TestRetryCounters(t *testing.T) {
	op := "metrics-test-op"
	ObserveAttempt(op, errors.New("fail"))
	ObserveAttempt(op, nil)
	ObserveEscalation(op)
	ObserveExhausted(op)

	if got := testutil.ToFloat64(retryAttemptsTotal.WithLabelValues(op, OutcomeFailure)); got != 1 {
		t.Errorf("expected one failed attempt, got %f", got)
	}
	if got := testutil.ToFloat64(retryAttemptsTotal.WithLabelValues(op, OutcomeSuccess)); got != 1 {
		t.Errorf("expected one successful attempt, got %f", got)
	}
	if got := testutil.ToFloat64(retryEscalationsTotal.WithLabelValues(op)); got != 1 {
		t.Errorf("expected one escalation, got %f", got)
	}
	if got := testutil.ToFloat64(retryExhaustedTotal.WithLabelValues(op)); got != 1 {
		t.Errorf("expected one exhaustion, got %f", got)
	}
}

func TestBatchAndSinkCounters(t *testing.T) {
	batch := "metrics-test-batch"
	IncInflight(batch)
	IncInflight(batch)
	DecInflight(batch)
	ObserveBatchTask(batch, OutcomePanic)
	ObserveSink("metrics-test-sink", OutcomeSkipped, 0)
	ObserveSink("metrics-test-sink", OutcomeSuccess, 3)

	if got := testutil.ToFloat64(batchInflight.WithLabelValues(batch)); got != 1 {
		t.Errorf("expected one in-flight task, got %f", got)
	}
	if got := testutil.ToFloat64(batchTasksTotal.WithLabelValues(batch, OutcomePanic)); got != 1 {
		t.Errorf("expected one panicked task, got %f", got)
	}
	if got := testutil.ToFloat64(sinkRecordsTotal.WithLabelValues("metrics-test-sink", OutcomeSuccess)); got != 3 {
		t.Errorf("expected three written records, got %f", got)
	}
	if got := testutil.ToFloat64(sinkRecordsTotal.WithLabelValues("metrics-test-sink", OutcomeSkipped)); got != 0 {
		t.Errorf("expected zero-count observations to be ignored, got %f", got)
	}
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
