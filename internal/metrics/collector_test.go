package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCountsByLabel(t *testing.T) {
	c, err := NewCollector("")
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	c.RecordLookup("site", LookupHit)
	c.RecordLookup("site", LookupHit)
	c.RecordLookup("site", LookupMiss)
	c.RecordDataServe("site", DataPopulate)
	c.RecordInvalidation("site", "all")

	if got := testutil.ToFloat64(c.lookups.WithLabelValues("site", LookupHit)); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(c.dataServes.WithLabelValues("site", DataPopulate)); got != 1 {
		t.Fatalf("expected 1 populate, got %v", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordLookup("x", LookupMiss)
	c.RecordDataServe("x", DataBypass)
	c.RecordInvalidation("x", "path")
	if c.Registry() != nil {
		t.Fatalf("nil collector should have no registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c, _ := NewCollector("test_hub")
	c.RecordLookup("site", LookupNegativeHit)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "test_hub_metadata_cache_lookups_total") {
		t.Fatalf("metrics output missing lookups counter: %s", body)
	}
}
