package httpserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/exercisejudge/judge/internal/adapter/httpserver"
	"github.com/exercisejudge/judge/internal/config"
	"github.com/exercisejudge/judge/internal/domain"
)

type fakeJobManager struct {
	submitJobID string
	submitErr   error
	status      domain.JobStatus
	statusOK    bool
	cancelOK    bool
	lastTaskID  string
	lastCode    string
	lastMode    domain.Mode
}

func (f *fakeJobManager) Submit(taskID, code string, mode domain.Mode) (string, error) {
	f.lastTaskID, f.lastCode, f.lastMode = taskID, code, mode
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitJobID, nil
}
func (f *fakeJobManager) GetJob(string) (domain.JobStatus, bool) { return f.status, f.statusOK }
func (f *fakeJobManager) CancelJob(string) bool                  { return f.cancelOK }
func (f *fakeJobManager) Health() (int, int, int)                { return 2, 3, 5 }

type fakeRepo struct {
	meta      domain.TaskMeta
	metaErr   error
	tasks     []domain.TaskMeta
	statement string
	stmtErr   error
}

func (f *fakeRepo) LoadMeta(domain.Context, string) (domain.TaskMeta, error) { return f.meta, f.metaErr }
func (f *fakeRepo) LoadTests(domain.Context, string) ([]domain.TestCase, error) {
	return nil, nil
}
func (f *fakeRepo) ListTasks(domain.Context) ([]domain.TaskMeta, error) { return f.tasks, nil }
func (f *fakeRepo) Statement(domain.Context, string) (string, error)   { return f.statement, f.stmtErr }

func newTestServer(jm *fakeJobManager, repo *fakeRepo) (*httptest.Server, func()) {
	s := httptest.NewServer(newRouter(jm, repo))
	return s, s.Close
}

func newRouter(jm *fakeJobManager, repo *fakeRepo) http.Handler {
	srv := httpserver.NewServer(config.Config{CodeMaxBytes: 131072}, jm, repo)
	r := chi.NewRouter()
	srv.Routes(r)
	return r
}

func TestSubmitHandler_Accepted(t *testing.T) {
	jm := &fakeJobManager{submitJobID: "01J000000000000000000000"}
	repo := &fakeRepo{meta: domain.TaskMeta{ID: "echo"}}
	ts, closeFn := newTestServer(jm, repo)
	defer closeFn()

	body := `{"task_id":"echo","code":"print(1)","mode":"check"}`
	resp, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["job_id"] != jm.submitJobID {
		t.Errorf("expected job_id=%s, got %v", jm.submitJobID, out)
	}
	if jm.lastTaskID != "echo" || jm.lastMode != domain.ModeCheck {
		t.Errorf("expected submit called with echo/check, got %s/%s", jm.lastTaskID, jm.lastMode)
	}
	if got := resp.Header.Get("X-Job-Id"); got != jm.submitJobID {
		t.Errorf("expected X-Job-Id header %s, got %q", jm.submitJobID, got)
	}
}

func TestSubmitHandler_UnknownTask404(t *testing.T) {
	jm := &fakeJobManager{}
	repo := &fakeRepo{metaErr: domain.ErrNotFound}
	ts, closeFn := newTestServer(jm, repo)
	defer closeFn()

	body := `{"task_id":"nope","code":"x","mode":"run"}`
	resp, _ := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSubmitHandler_UnknownTaskTakesPrecedenceOverInvalidMode(t *testing.T) {
	jm := &fakeJobManager{}
	repo := &fakeRepo{metaErr: domain.ErrNotFound}
	ts, closeFn := newTestServer(jm, repo)
	defer closeFn()

	body := `{"task_id":"nope","code":"x","mode":"bogus"}`
	resp, _ := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 (task existence checked before mode), got %d", resp.StatusCode)
	}
}

func TestSubmitHandler_InvalidMode400(t *testing.T) {
	jm := &fakeJobManager{}
	repo := &fakeRepo{meta: domain.TaskMeta{ID: "echo"}}
	ts, closeFn := newTestServer(jm, repo)
	defer closeFn()

	body := `{"task_id":"echo","code":"x","mode":"bogus"}`
	resp, _ := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitHandler_CodeTooLarge413(t *testing.T) {
	jm := &fakeJobManager{}
	repo := &fakeRepo{meta: domain.TaskMeta{ID: "echo"}}
	srv := httpserver.NewServer(config.Config{CodeMaxBytes: 4}, jm, repo)
	r := chi.NewRouter()
	srv.Routes(r)
	ts := httptest.NewServer(r)
	defer ts.Close()

	payload, _ := json.Marshal(map[string]string{"task_id": "echo", "code": "way too long", "mode": "run"})
	resp, _ := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(payload))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestSubmitHandler_QueueFull429(t *testing.T) {
	jm := &fakeJobManager{submitErr: domain.ErrQueueFull}
	repo := &fakeRepo{meta: domain.TaskMeta{ID: "echo"}}
	ts, closeFn := newTestServer(jm, repo)
	defer closeFn()

	body := `{"task_id":"echo","code":"x","mode":"run"}`
	resp, _ := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestStatusHandler_NotFound(t *testing.T) {
	jm := &fakeJobManager{statusOK: false}
	ts, closeFn := newTestServer(jm, &fakeRepo{})
	defer closeFn()

	resp, _ := http.Get(ts.URL + "/jobs/missing")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStatusHandler_Found(t *testing.T) {
	jm := &fakeJobManager{statusOK: true, status: domain.JobStatus{ID: "j1", State: domain.JobDone}}
	ts, closeFn := newTestServer(jm, &fakeRepo{})
	defer closeFn()

	resp, _ := http.Get(ts.URL + "/jobs/j1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCancelHandler(t *testing.T) {
	jm := &fakeJobManager{cancelOK: true}
	ts, closeFn := newTestServer(jm, &fakeRepo{})
	defer closeFn()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/jobs/j1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCancelHandler_CannotCancel(t *testing.T) {
	jm := &fakeJobManager{cancelOK: false}
	ts, closeFn := newTestServer(jm, &fakeRepo{})
	defer closeFn()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/jobs/j1", nil)
	resp, _ := http.DefaultClient.Do(req)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListTasksHandler(t *testing.T) {
	repo := &fakeRepo{tasks: []domain.TaskMeta{{ID: "echo"}, {ID: "sum"}}}
	ts, closeFn := newTestServer(&fakeJobManager{}, repo)
	defer closeFn()

	resp, _ := http.Get(ts.URL + "/tasks")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string][]domain.TaskMeta
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if len(out["tasks"]) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", out)
	}
}

func TestGetTaskHandler(t *testing.T) {
	repo := &fakeRepo{meta: domain.TaskMeta{ID: "echo", Title: "Echo"}, statement: "# Echo"}
	ts, closeFn := newTestServer(&fakeJobManager{}, repo)
	defer closeFn()

	resp, _ := http.Get(ts.URL + "/tasks/echo")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["statement"] != "# Echo" {
		t.Errorf("expected statement echoed back, got %+v", out)
	}
}

func TestHealthHandler(t *testing.T) {
	jm := &fakeJobManager{}
	ts, closeFn := newTestServer(jm, &fakeRepo{})
	defer closeFn()

	resp, _ := http.Get(ts.URL + "/healthz")
	defer resp.Body.Close()
	var out map[string]int
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["workers"] != 2 || out["queue_size"] != 3 || out["jobs_count"] != 5 {
		t.Fatalf("unexpected health payload: %+v", out)
	}
}
