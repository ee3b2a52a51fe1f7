package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := fetchAttemptsTotal
	Init()
	if fetchAttemptsTotal != first {
		t.Fatal("Init() replaced collectors on second call")
	}
}

func TestObserveCounters(t *testing.T) {
	ObserveFetchAttempt("KAVE", "success")
	ObserveFetchAttempt("KAVE", "success")
	if val := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("KAVE", "success")); val != 2 {
		t.Errorf("expected 2 fetch attempts, got %f", val)
	}

	ObserveListings("SKLUM", 3)
	ObserveListings("SKLUM", 0)
	if val := testutil.ToFloat64(listingsTotal.WithLabelValues("SKLUM")); val != 3 {
		t.Errorf("expected 3 listings, got %f", val)
	}

	IncInflight()
	IncInflight()
	DecInflight()
	if val := testutil.ToFloat64(inflightFetches); val != 1 {
		t.Errorf("expected 1 in-flight fetch, got %f", val)
	}
	DecInflight()

	ObserveStage("upsert", 20*time.Millisecond)
	if val := testutil.CollectAndCount(stageDurationSeconds); val <= 0 {
		t.Errorf("expected stage histogram to be observed, got %d", val)
	}
}
