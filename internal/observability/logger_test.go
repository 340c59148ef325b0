package observability

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/exercisejudge/judge/internal/config"
)

func TestSetupLogger_DevAndProd(t *testing.T) {
	lg := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "svc"})
	if lg == nil {
		t.Fatalf("nil logger")
	}
	lg2 := SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "svc"})
	if lg2 == nil {
		t.Fatalf("nil logger prod")
	}
}

func TestJobLogger_AddsJobAndTaskFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	lg := JobLogger(base, "01J000000000000000000000", "echo")
	lg.Info("compiled")

	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte(`"job_id":"01J000000000000000000000"`)) {
		t.Fatalf("expected job_id field in log output, got %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"task_id":"echo"`)) {
		t.Fatalf("expected task_id field in log output, got %s", out)
	}
}

func TestJobLogger_NilBaseFallsBackToDefault(t *testing.T) {
	lg := JobLogger(nil, "job1", "task1")
	if lg == nil {
		t.Fatal("expected non-nil logger")
	}
}
