package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/model"
)

func TestEvent_New(t *testing.T) {
	event := NewEvent("alice", EventStart, "dep-1")

	if event.User != "alice" {
		t.Errorf("User = %q, want %q", event.User, "alice")
	}
	if event.Type != EventStart {
		t.Errorf("Type = %q, want %q", event.Type, EventStart)
	}
	if event.DeploymentID != "dep-1" {
		t.Errorf("DeploymentID = %q", event.DeploymentID)
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestEvent_Chaining(t *testing.T) {
	event := NewEvent("alice", EventDevice, "dep-1").
		WithDevice("leaf1", "commit", "done").
		WithMessage("committed").
		WithSuccess().
		WithDuration(time.Second).
		WithExecuteMode(true)

	if event.Device != "leaf1" || event.Stage != "commit" || event.State != "done" {
		t.Errorf("device fields = %q %q %q", event.Device, event.Stage, event.State)
	}
	if !event.Success {
		t.Error("Success should be true")
	}
	if event.Duration != time.Second {
		t.Errorf("Duration = %v", event.Duration)
	}
	if !event.ExecuteMode || event.DryRun {
		t.Errorf("ExecuteMode = %v, DryRun = %v", event.ExecuteMode, event.DryRun)
	}

	event.WithError(errors.New("commit refused"))
	if event.Success {
		t.Error("Success should be false after WithError")
	}
	if event.Error != "commit refused" {
		t.Errorf("Error = %q", event.Error)
	}
}

func TestPlanEvent(t *testing.T) {
	plan := &model.DeploymentPlan{
		DeploymentID: "dep-1",
		Strategy:     model.StrategyAggressive,
		RiskLevel:    model.RiskMedium,
		Groups: []model.ExecutionGroup{
			{ID: "add", Operations: []model.Operation{{Type: model.ChangeAdd, DeviceID: "dev1"}}},
			{ID: "modify", Operations: []model.Operation{{Type: model.ChangeModify, DeviceID: "dev2"}}},
			{ID: "remove"},
		},
	}
	e := PlanEvent("bob", plan, false)
	if e.Type != EventPlan || e.Strategy != "aggressive" {
		t.Errorf("event = %+v", e)
	}
	if len(e.Devices) != 2 || e.Devices[0] != "dev1" || e.Devices[1] != "dev2" {
		t.Errorf("Devices = %v", e.Devices)
	}
	if !e.DryRun {
		t.Error("plan without -x should be a dry run")
	}
}

func TestResultEvent(t *testing.T) {
	tests := []struct {
		name    string
		result  model.DeploymentResult
		success bool
		err     string
	}{
		{"success", model.DeploymentResult{DeploymentID: "d", Success: true, DeployedDevices: []string{"dev1"}}, true, ""},
		{"failure", model.DeploymentResult{DeploymentID: "d", ErrorMessage: "check failed on dev2"}, false, "check failed on dev2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ResultEvent("alice", &tt.result)
			if e.Success != tt.success {
				t.Errorf("Success = %v, want %v", e.Success, tt.success)
			}
			if e.Error != tt.err {
				t.Errorf("Error = %q, want %q", e.Error, tt.err)
			}
		})
	}
}

func TestFileLogger_Basic(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer logger.Close()

	event := NewEvent("alice", EventStart, "dep-1").WithSuccess()
	if err := logger.Log(event); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Fatal("Log file should exist")
	}

	events, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].ID != event.ID {
		t.Errorf("ID = %q, want %q", events[0].ID, event.ID)
	}
}

func TestFileLogger_QueryFilters(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "audit.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer logger.Close()

	logger.Log(NewEvent("alice", EventStart, "dep-1").WithSuccess())
	logger.Log(NewEvent("alice", EventDevice, "dep-1").WithDevice("dev1", "check", "failed").WithError(errors.New("bad vlan")))
	logger.Log(NewEvent("bob", EventDevice, "dep-2").WithDevice("dev2", "commit", "done").WithSuccess())
	logger.Log(NewEvent("alice", EventResult, "dep-2").WithSuccess())

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"by deployment", Filter{DeploymentID: "dep-1"}, 2},
		{"by device", Filter{Device: "dev2"}, 1},
		{"by user", Filter{User: "alice"}, 3},
		{"by type", Filter{Type: EventDevice}, 2},
		{"success only", Filter{SuccessOnly: true}, 3},
		{"failure only", Filter{FailureOnly: true}, 1},
		{"limit", Filter{Limit: 2}, 2},
		{"offset", Filter{Offset: 3}, 1},
		{"offset past end", Filter{Offset: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := logger.Query(tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("got %d events, want %d", len(events), tt.want)
			}
		})
	}
}

func TestFileLogger_TimeFilter(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "audit.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer logger.Close()

	old := NewEvent("alice", EventStart, "dep-1")
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	logger.Log(old)
	logger.Log(NewEvent("alice", EventStart, "dep-2"))

	events, err := logger.Query(Filter{StartTime: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 1 || events[0].DeploymentID != "dep-2" {
		t.Errorf("events = %v", events)
	}

	events, _ = logger.Query(Filter{EndTime: time.Now().Add(-time.Hour)})
	if len(events) != 1 || events[0].DeploymentID != "dep-1" {
		t.Errorf("events = %v", events)
	}
}

func TestFileLogger_SkipsMalformedLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	if err := os.WriteFile(logPath, []byte("not json\n"), 0644); err != nil {
		t.Fatal(err)
	}
	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer logger.Close()
	logger.Log(NewEvent("alice", EventStart, "dep-1"))

	events, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")

	logger, err := NewFileLogger(logPath, RotationConfig{MaxSize: 100, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer logger.Close()

	for i := 0; i < 10; i++ {
		if err := logger.Log(NewEvent("alice", EventStart, "dep-1")); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}

	backups, _ := filepath.Glob(logPath + ".*")
	if len(backups) > 2 {
		t.Errorf("kept %d backups, want at most 2", len(backups))
	}
	if len(backups) == 0 {
		t.Error("expected at least one rotated file")
	}
}

func TestDefaultLogger(t *testing.T) {
	SetDefaultLogger(nil)
	if err := Log(NewEvent("alice", EventStart, "dep-1")); err != nil {
		t.Errorf("Log() with no default = %v", err)
	}
	events, err := Query(Filter{})
	if err != nil || len(events) != 0 {
		t.Errorf("Query() with no default = %v, %v", events, err)
	}

	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "audit.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer logger.Close()
	SetDefaultLogger(logger)
	defer SetDefaultLogger(nil)

	Log(NewEvent("alice", EventStart, "dep-1"))
	events, _ = Query(Filter{})
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}

func TestObserver(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "audit.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer logger.Close()
	obs := NewObserver(logger, "alice")

	start := time.Now()
	s := model.DeploymentStatus{
		DeploymentID:  "dep-1",
		Status:        model.StatusRunning,
		DeviceResults: map[string]model.DeviceResult{},
		StartedAt:     start,
		UpdatedAt:     start,
	}
	obs.Publish("dep-1", s)

	s.DeviceResults["dev1"] = model.DeviceResult{DeviceID: "dev1", Stage: "check", State: "committing"}
	obs.Publish("dep-1", s)
	// unchanged device state emits nothing
	s.Logs = []string{"log line"}
	obs.Publish("dep-1", s)

	s.DeviceResults["dev1"] = model.DeviceResult{DeviceID: "dev1", Stage: "commit", State: "failed", Message: "commit refused"}
	s.Status = model.StatusFailed
	s.Errors = []string{"commit failed on dev1"}
	s.UpdatedAt = start.Add(3 * time.Second)
	obs.Publish("dep-1", s)
	// a second terminal snapshot is ignored
	obs.Publish("dep-1", s)

	events, err := logger.Query(Filter{DeploymentID: "dep-1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[0].Type != EventStart || !events[0].Timestamp.Equal(start) {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Type != EventDevice || !events[1].Success {
		t.Errorf("events[1] = %+v", events[1])
	}
	if events[2].Type != EventDevice || events[2].Success || events[2].Error != "commit refused" {
		t.Errorf("events[2] = %+v", events[2])
	}
	res := events[3]
	if res.Type != EventResult || res.Success || res.State != model.StatusFailed {
		t.Errorf("result = %+v", res)
	}
	if res.Duration != 3*time.Second {
		t.Errorf("Duration = %v", res.Duration)
	}
	if res.Error != "commit failed on dev1" {
		t.Errorf("Error = %q", res.Error)
	}
}
