package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/config"
	"github.com/lienfeed/recorder-feed/internal/recorder"
	"github.com/lienfeed/recorder-feed/internal/scheduler"
)

type fakeAutomation struct {
	running  bool
	runErr   error
	stopErr  error
	schedule recorder.Schedule
	lastReq  recorder.RunRequest
}

func (f *fakeAutomation) RunAutomation(_ context.Context, req recorder.RunRequest) (recorder.AutomationRun, error) {
	if f.runErr != nil {
		return recorder.AutomationRun{}, f.runErr
	}
	f.lastReq = req
	return recorder.AutomationRun{ID: 7, Trigger: req.Trigger, Status: recorder.RunStatusRunning}, nil
}

func (f *fakeAutomation) StopAutomation(context.Context) error { return f.stopErr }

func (f *fakeAutomation) Status(context.Context) (bool, recorder.AutomationRun, error) {
	return f.running, recorder.AutomationRun{ID: 7, Status: recorder.RunStatusCompleted}, nil
}

func (f *fakeAutomation) ScheduleInfo(context.Context) (recorder.Schedule, error) {
	return f.schedule, nil
}

func (f *fakeAutomation) UpdateSchedule(_ context.Context, schedule recorder.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	f.schedule = schedule
	return nil
}

func (f *fakeAutomation) ListRuns(context.Context, int) ([]recorder.AutomationRun, error) {
	return []recorder.AutomationRun{{ID: 7}}, nil
}

func (f *fakeAutomation) ListCountyRuns(_ context.Context, runID int64) ([]recorder.CountyRun, error) {
	return []recorder.CountyRun{{ID: 1, RunID: runID, CountyID: 3}}, nil
}

func (f *fakeAutomation) ListReview(context.Context) ([]recorder.PersistedLien, error) {
	return []recorder.PersistedLien{{RecordingNumber: "2026-1"}}, nil
}

func (f *fakeAutomation) ApproveReview(context.Context) (int, error) { return 1, nil }
func (f *fakeAutomation) RejectReview(context.Context) (int, error)  { return 1, nil }

type fakePdfStore struct {
	content map[string][]byte
	fresh   string
}

func (f *fakePdfStore) Store(context.Context, []byte, string) (recorder.StoredPdf, error) {
	return recorder.StoredPdf{}, nil
}

func (f *fakePdfStore) Get(_ context.Context, id string) ([]byte, recorder.StoredPdf, error) {
	content, ok := f.content[id]
	if !ok {
		return nil, recorder.StoredPdf{}, recorder.ErrNotFound
	}
	return content, recorder.StoredPdf{ID: id, Filename: id + ".pdf"}, nil
}

func (f *fakePdfStore) Redownload(_ context.Context, recordingNumber string) (recorder.StoredPdf, error) {
	if f.fresh == "" {
		return recorder.StoredPdf{}, recorder.ErrNotFound
	}
	return recorder.StoredPdf{ID: f.fresh, RecordingNumber: recordingNumber}, nil
}

func testConfig() config.Config {
	return config.Config{Server: config.ServerConfig{Port: 8080}}
}

func newTestServer(automation *fakeAutomation, pdfs *fakePdfStore, cfg config.Config) *httptest.Server {
	return httptest.NewServer(NewServer(automation, pdfs, cfg, zap.NewNop()).Handler())
}

func TestStartAutomation(t *testing.T) {
	t.Parallel()
	automation := &fakeAutomation{schedule: recorder.DefaultSchedule()}
	server := newTestServer(automation, &fakePdfStore{}, testConfig())
	defer server.Close()

	body := strings.NewReader(`{"from_date":"2026-08-30","to_date":"2026-08-31","limit":5}`)
	resp, err := http.Post(server.URL+"/v1/automation/start", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Equal(t, recorder.TriggerManual, automation.lastReq.Trigger)
	require.Equal(t, 5, automation.lastReq.Limit)
	require.NotNil(t, automation.lastReq.FromDate)
	require.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), *automation.lastReq.FromDate)
}

func TestStartAutomationConflict(t *testing.T) {
	t.Parallel()
	automation := &fakeAutomation{runErr: recorder.ErrRunInProgress}
	server := newTestServer(automation, &fakePdfStore{}, testConfig())
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/automation/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStopAutomationWithoutRun(t *testing.T) {
	t.Parallel()
	automation := &fakeAutomation{stopErr: scheduler.ErrNoActiveRun}
	server := newTestServer(automation, &fakePdfStore{}, testConfig())
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/automation/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPutScheduleValidation(t *testing.T) {
	t.Parallel()
	automation := &fakeAutomation{schedule: recorder.DefaultSchedule()}
	server := newTestServer(automation, &fakePdfStore{}, testConfig())
	defer server.Close()

	req, err := http.NewRequest(http.MethodPut, server.URL+"/v1/schedule/",
		strings.NewReader(`{"hour":25,"minute":0,"timezone":"America/New_York"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, server.URL+"/v1/schedule/",
		strings.NewReader(`{"hour":7,"minute":30,"timezone":"America/Chicago","enabled":true}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 7, automation.schedule.Hour)
}

func TestListCountyRunsValidatesID(t *testing.T) {
	t.Parallel()
	server := newTestServer(&fakeAutomation{}, &fakePdfStore{}, testConfig())
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/runs/7/counties")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/v1/runs/nope/counties")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetPdf(t *testing.T) {
	t.Parallel()
	pdfs := &fakePdfStore{content: map[string][]byte{"abc": []byte("%PDF-1.7 content")}}
	server := newTestServer(&fakeAutomation{}, pdfs, testConfig())
	defer server.Close()

	resp, err := http.Get(server.URL + "/pdf/abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
}

func TestGetPdfRedownloadRedirect(t *testing.T) {
	t.Parallel()
	pdfs := &fakePdfStore{fresh: "fresh-id"}
	server := newTestServer(&fakeAutomation{}, pdfs, testConfig())
	defer server.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(server.URL + "/pdf/gone?recording_number=2026-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/pdf/fresh-id", resp.Header.Get("Location"))
}

func TestGetPdfNotFound(t *testing.T) {
	t.Parallel()
	server := newTestServer(&fakeAutomation{}, &fakePdfStore{}, testConfig())
	defer server.Close()

	resp, err := http.Get(server.URL + "/pdf/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApiKeyGuardsControlSurfaceOnly(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := newTestServer(&fakeAutomation{}, &fakePdfStore{content: map[string][]byte{"abc": []byte("%PDF")}}, cfg)
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/runs")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/v1/runs", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Health and PDF stay open for probes and the downstream fetcher.
	resp, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/pdf/abc")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
