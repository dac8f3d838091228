package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/approval"
	jobmetrics "github.com/odyssey-erp/odyssey-procure/internal/jobs"
)

type stubScanner struct {
	result approval.ScanResult
	err    error
	calls  int
}

func (s *stubScanner) ScanEscalations(ctx context.Context) (approval.ScanResult, error) {
	s.calls++
	return s.result, s.err
}

func TestEscalationScanTaskPayload(t *testing.T) {
	task, err := NewEscalationScanTask("")
	require.NoError(t, err)
	require.Equal(t, TaskEscalationScan, task.Type())

	var payload EscalationScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "cron", payload.Trigger)
}

func TestEscalationScanJobRunsScanner(t *testing.T) {
	scanner := &stubScanner{result: approval.ScanResult{Tenants: 2, Flagged: 3}}
	job := NewEscalationScanJob(scanner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewEscalationScanTask("cli")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, scanner.calls)
}

func TestEscalationScanJobSurfacesFailure(t *testing.T) {
	boom := errors.New("store down")
	job := NewEscalationScanJob(&stubScanner{err: boom}, nil, nil)
	task, err := NewEscalationScanTask("cron")
	require.NoError(t, err)

	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestEscalationScanJobSkipsMalformedPayload(t *testing.T) {
	scanner := &stubScanner{}
	job := NewEscalationScanJob(scanner, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskEscalationScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, scanner.calls)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func serveHealth(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	var h *Handler
	if inspector == nil {
		h = NewHandler(nil, nil)
	} else {
		h = NewHandler(inspector, nil)
	}
	r.Route("/jobs", h.MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rr
}

func TestJobsHealth(t *testing.T) {
	rr := serveHealth(t, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serveHealth(t, stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Active: 1}})
	require.Equal(t, http.StatusOK, rr.Code)
	var body QueueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 4, body.Pending)
	require.Equal(t, 1, body.Active)

	rr = serveHealth(t, stubInspector{err: errors.New("redis down")})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
