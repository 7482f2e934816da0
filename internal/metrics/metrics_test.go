package metrics_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/jobscheduler"
	"github.com/block/repokeeper/internal/logging"
	"github.com/block/repokeeper/internal/metrics"
)

func TestJobMetricsExported(t *testing.T) {
	_, ctx := logging.Configure(context.Background(), logging.Config{})

	client, err := metrics.New(ctx, metrics.Config{ServiceName: "repokeeper-test"})
	assert.NoError(t, err)
	defer client.Close()

	jobMetrics, err := metrics.NewJobMetrics(client.MeterProvider())
	assert.NoError(t, err)

	jobMetrics.Observe(ctx, jobscheduler.Result{Job: "prefetch", Duration: 2 * time.Second})
	jobMetrics.Observe(ctx, jobscheduler.Result{Job: "prefetch", Err: errors.New("remote hung up")})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	client.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "repokeeper_job_count")
	assert.Contains(t, string(body), "repokeeper_job_duration")
	assert.Contains(t, string(body), `job="prefetch"`)
	assert.Contains(t, string(body), `result="failure"`)
	assert.Contains(t, string(body), `result="success"`)
}

func TestServeMetricsDisabledWithoutPort(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, ctx = logging.Configure(ctx, logging.Config{})

	client, err := metrics.New(ctx, metrics.Config{ServiceName: "repokeeper-test"})
	assert.NoError(t, err)
	defer client.Close()

	client.ServeMetrics(ctx)
}
