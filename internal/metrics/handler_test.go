package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func scrape(t *testing.T, gatherer prometheus.Gatherer) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	Handler(gatherer).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(w.Result().Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return w.Code, string(body)
}

func TestHandler_ServesDomainMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordQuotaRejection("projects")
	c.RecordCleanupDeleted("refresh_tokens", 3)

	code, body := scrape(t, reg)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	for _, want := range []string{
		`agileflow_quota_rejections_total{resource="projects"} 1`,
		`agileflow_cleanup_deleted_total{target="refresh_tokens"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body should contain %q", want)
		}
	}
}

// failingGatherer は収集の一部が失敗したGathererを模す。
type failingGatherer struct{ reg *prometheus.Registry }

func (g failingGatherer) Gather() ([]*dto.MetricFamily, error) {
	mfs, _ := g.reg.Gather()
	return mfs, errors.New("collector failed")
}

func TestHandler_ContinuesOnGatherError(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).RecordAuditFailure()

	code, body := scrape(t, failingGatherer{reg: reg})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if !strings.Contains(body, "agileflow_audit_write_failures_total 1") {
		t.Errorf("partial results should still be served, body = %s", body)
	}
}
