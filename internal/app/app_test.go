package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentsched.org/internal/audit"
	"agentsched.org/internal/config"
	"agentsched.org/internal/orchestrator"
	"agentsched.org/internal/sink"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sched.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestNewRunsPipelineInMemory(t *testing.T) {
	cfg := loadConfig(t, "auth:\n  secret: \"00112233445566778899aabbccddeeff\"\n")
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Store != nil {
		t.Fatal("no database is configured")
	}
	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	ref := time.Now().Add(time.Hour)
	resp := a.Orchestrator.RunAt(context.Background(), orchestrator.Request{
		UserRequest: "Planning session tomorrow at 10am for 45 minutes",
		UserID:      "user-1",
	}, ref)
	if resp.State != orchestrator.NotifySent {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Event.Duration != 45*time.Minute {
		t.Fatalf("duration: %v", resp.Event.Duration)
	}
	entries, err := a.Audit.Query(context.Background(), 10, audit.Filter{RequestID: resp.RequestID})
	if err != nil || len(entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d (%v)", len(entries), err)
	}
}

func TestNewWritesICSFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, "calendar:\n  driver: ics\n  dir: "+dir+"\n  conflict_check: true\nextract:\n  default_duration: 20m\n")
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ref := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	req := orchestrator.Request{UserRequest: "Dentist Thursday 3 PM", UserID: "user-1"}
	resp := a.Orchestrator.RunAt(context.Background(), req, ref)
	if resp.Status != orchestrator.StatusCreated {
		t.Fatalf("unexpected response: %+v", resp)
	}
	rec, err := sink.ReadICS(filepath.Join(dir, resp.EventID+".ics"))
	if err != nil {
		t.Fatalf("ReadICS: %v", err)
	}
	if rec.Title != "Dentist" || rec.Duration != 20*time.Minute {
		t.Fatalf("unexpected stored record: %+v", rec)
	}

	resp = a.Orchestrator.RunAt(context.Background(), req, ref)
	if resp.Reason != orchestrator.KindConflict {
		t.Fatalf("expected conflict on second run, got %+v", resp)
	}
}
