package push_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/newtdeploy/internal/testutil"
	"github.com/newtron-network/newtdeploy/pkg/push"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

func newExecutor(f *testutil.FakeDialer, devices ...string) *push.Executor {
	for _, d := range devices {
		f.Device(d)
	}
	e := push.NewExecutor(f, f.Directory())
	e.Timing = push.Timing{ReceiveTimeout: 10 * time.Millisecond}
	return e
}

func TestTransaction(t *testing.T) {
	e := push.NewExecutor(nil, nil)
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"bare", []string{"vlan 100"}, []string{"configure", "vlan 100", "commit"}},
		{"framed", []string{"configure", "vlan 100", "commit"}, []string{"configure", "vlan 100", "commit"}},
		{"blank lines", []string{" ", "vlan 100", ""}, []string{"configure", "vlan 100", "commit"}},
		{"empty", nil, []string{"configure", "commit"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Transaction(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Transaction(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCheck_Clean(t *testing.T) {
	f := testutil.NewFakeDialer()
	e := newExecutor(f, "leaf1")

	res, err := e.Check(context.Background(), "leaf1", []string{"vlan 100", "name web"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Outcome != push.OutcomePassed {
		t.Errorf("Outcome = %s, want passed", res.Outcome)
	}
	want := []string{"configure", "vlan 100", "name web", "commit check"}
	if got := f.Sent("leaf1"); !reflect.DeepEqual(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
	if f.Count("leaf1", "commit") != 0 {
		t.Error("check must never send a real commit")
	}
}

func TestCheck_NegativeTokens(t *testing.T) {
	tests := []struct {
		name     string
		contains string
		response string
		wantMsg  string
	}{
		{"invalid input", "vlan 999", "% Invalid input detected at '^' marker.", "Invalid input"},
		{"priority over line order", "commit check", "validation failed\n% Invalid value for vlan-id", "Invalid value"},
		{"error first", "commit check", "% Invalid name\nError: commit check aborted", "Error: commit check aborted"},
		{"permission", "vlan 999", "Permission denied", "Permission denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testutil.NewFakeDialer()
			f.Device("leaf1").RespondContains(tt.contains, tt.response)
			e := newExecutor(f)

			_, err := e.Check(context.Background(), "leaf1", []string{"vlan 999"})
			var sf *util.StageFailure
			if !errors.As(err, &sf) {
				t.Fatalf("err = %v, want StageFailure", err)
			}
			if sf.Stage != "check" || sf.Device != "leaf1" {
				t.Errorf("failure = %+v", sf)
			}
			if !strings.Contains(sf.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", sf.Message, tt.wantMsg)
			}
			if !errors.Is(err, util.ErrStageFailed) {
				t.Error("expected errors.Is(err, ErrStageFailed)")
			}
		})
	}
}

func TestCheck_EchoIsNotAFailure(t *testing.T) {
	f := testutil.NewFakeDialer()
	e := newExecutor(f, "leaf1")

	// The echoed command itself contains a negative token.
	_, err := e.Check(context.Background(), "leaf1", []string{"interface eth1", "description error-uplink"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestPush_NoOpAtCheck(t *testing.T) {
	f := testutil.NewFakeDialer()
	f.Device("leaf1").Respond("commit check", "No configuration changes were made")
	e := newExecutor(f)

	rep, err := e.Push(context.Background(), push.Request{Device: "leaf1", Commands: []string{"vlan 100"}, VerifyTarget: "100"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if rep.State != push.StateDone || !rep.NoOp {
		t.Errorf("report = %+v, want done no-op", rep)
	}
	if len(rep.Stages) != 1 {
		t.Errorf("stages = %d, want 1", len(rep.Stages))
	}
	if f.Count("leaf1", "commit") != 0 {
		t.Error("no-op device must not be committed")
	}
	if f.Sessions("leaf1") != 1 {
		t.Errorf("sessions = %d, want 1", f.Sessions("leaf1"))
	}
}

func TestCommit_RequiresConfirmation(t *testing.T) {
	f := testutil.NewFakeDialer()
	f.Device("leaf1").Respond("commit", "")
	e := newExecutor(f)

	_, err := e.Commit(context.Background(), "leaf1", []string{"vlan 100"})
	var sf *util.StageFailure
	if !errors.As(err, &sf) || sf.Stage != "commit" {
		t.Fatalf("err = %v, want commit StageFailure", err)
	}
	if !strings.Contains(sf.Message, "no commit confirmation") {
		t.Errorf("message = %q", sf.Message)
	}
}

func TestCommit_Succeeded(t *testing.T) {
	f := testutil.NewFakeDialer()
	f.Device("leaf1").Respond("commit", "Commit succeeded")
	e := newExecutor(f)

	res, err := e.Commit(context.Background(), "leaf1", []string{"vlan 100"})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Outcome != push.OutcomePassed {
		t.Errorf("Outcome = %s", res.Outcome)
	}
	sent := f.Sent("leaf1")
	if sent[len(sent)-1] != "end" {
		t.Errorf("commit session should close with exit marker, sent %v", sent)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name     string
		response string
		target   string
		removal  bool
		wantErr  bool
	}{
		{"present as field", "vlan 100\n name web", "100", false, false},
		{"present quoted", `{"service": "svc-web", "vlans": [100]}`, "svc-web", false, false},
		{"substring is not presence", "vlan 1000", "100", false, true},
		{"missing", "", "100", false, true},
		{"removal absent", "", "100", true, false},
		{"removal still present", "vlan 100", "100", true, true},
		{"removal unknown reply", "% Unknown vlan 100", "100", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testutil.NewFakeDialer()
			f.Device("leaf1").RespondContains("show running-config", tt.response)
			e := newExecutor(f)

			_, err := e.Verify(context.Background(), "leaf1", tt.target, tt.removal)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, util.ErrStageFailed) {
				t.Errorf("err = %v, want stage failure", err)
			}
		})
	}
}

func TestVerify_EmptyTargetSkips(t *testing.T) {
	f := testutil.NewFakeDialer()
	e := newExecutor(f, "leaf1")

	res, err := e.Verify(context.Background(), "leaf1", "", false)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Outcome != push.OutcomeSkipped {
		t.Errorf("Outcome = %s, want skipped", res.Outcome)
	}
	if f.Sessions("leaf1") != 0 {
		t.Error("skipped verify should not open a session")
	}
}

func TestPush_FullProtocol(t *testing.T) {
	f := testutil.NewFakeDialer()
	f.Device("leaf1").RespondContains("show running-config", "vlan 100")
	e := newExecutor(f)

	rep, err := e.Push(context.Background(), push.Request{Device: "leaf1", Commands: []string{"vlan 100"}, VerifyTarget: "100"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if rep.State != push.StateDone || rep.NoOp {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(rep.Stages))
	}
	var path []push.State
	for _, tr := range rep.Transitions {
		path = append(path, tr.To)
	}
	want := []push.State{push.StateCommitting, push.StateVerifying, push.StateDone}
	if !reflect.DeepEqual(path, want) {
		t.Errorf("transitions = %v, want %v", path, want)
	}
	if f.Sessions("leaf1") != 3 {
		t.Errorf("sessions = %d, want one per stage", f.Sessions("leaf1"))
	}
}

func TestPush_CheckFailureStopsBeforeCommit(t *testing.T) {
	f := testutil.NewFakeDialer()
	f.Device("leaf1").RespondContains("vlan 999", "% Invalid VLAN ID")
	e := newExecutor(f)

	rep, err := e.Push(context.Background(), push.Request{Device: "leaf1", Commands: []string{"vlan 999"}})
	if err == nil {
		t.Fatal("expected failure")
	}
	if rep.State != push.StateFailed {
		t.Errorf("State = %s, want failed", rep.State)
	}
	if f.Count("leaf1", "commit") != 0 {
		t.Error("failed check must not be followed by commit")
	}
}

func TestConnectionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("refused", func(t *testing.T) {
		f := testutil.NewFakeDialer()
		f.Device("leaf1").Refuse(errors.New("connection refused"))
		e := newExecutor(f)
		_, err := e.Check(ctx, "leaf1", []string{"vlan 100"})
		if !errors.Is(err, util.ErrConnectionFailed) {
			t.Fatalf("err = %v, want connection failure", err)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		f := testutil.NewFakeDialer()
		e := newExecutor(f)
		_, err := e.Check(ctx, "ghost", []string{"vlan 100"})
		if !errors.Is(err, util.ErrConnectionFailed) {
			t.Fatalf("err = %v, want connection failure", err)
		}
		if !errors.Is(err, util.ErrNotFound) {
			t.Errorf("err = %v, want wrapped not found", err)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		f := testutil.NewFakeDialer()
		dir := push.StaticDirectory{"leaf1": {Endpoint: push.Endpoint{Host: "leaf1"}, Credentials: push.Credentials{Username: "admin"}}}
		e := push.NewExecutor(f, dir)
		_, err := e.Check(ctx, "leaf1", []string{"vlan 100"})
		if !errors.Is(err, util.ErrConnectionFailed) {
			t.Fatalf("err = %v, want connection failure", err)
		}
		if f.Sessions("leaf1") != 0 {
			t.Error("no session should open without credentials")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := testutil.NewFakeDialer()
		e := newExecutor(f, "leaf1")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := e.Check(cctx, "leaf1", []string{"vlan 100"})
		if !errors.Is(err, util.ErrConnectionFailed) {
			t.Fatalf("err = %v, want connection failure", err)
		}
	})
}

func TestSessionDropIsStageFailure(t *testing.T) {
	f := testutil.NewFakeDialer()
	f.Device("leaf1").DropOn("commit check")
	e := newExecutor(f)

	_, err := e.Check(context.Background(), "leaf1", []string{"vlan 100"})
	var sf *util.StageFailure
	if !errors.As(err, &sf) {
		t.Fatalf("err = %v, want StageFailure", err)
	}
	if !strings.HasPrefix(sf.Message, "session:") {
		t.Errorf("message = %q", sf.Message)
	}
}

func TestReplay_ContinuesPastRejection(t *testing.T) {
	f := testutil.NewFakeDialer()
	f.Device("leaf1").RespondContains("no vlan 999", "% Invalid VLAN")
	e := newExecutor(f)

	logs, err := e.Replay(context.Background(), "leaf1", []string{"no vlan 100", "no vlan 999", "commit"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("logs = %d, want 3", len(logs))
	}
	if !logs[0].OK || logs[1].OK || !logs[2].OK {
		t.Errorf("ok flags = %v %v %v, want true false true", logs[0].OK, logs[1].OK, logs[2].OK)
	}
	if !strings.Contains(logs[1].Error, "Invalid VLAN") {
		t.Errorf("error = %q", logs[1].Error)
	}
}

func TestMachine(t *testing.T) {
	m := push.NewMachine("leaf1")
	if m.State() != push.StateChecking {
		t.Fatalf("initial = %s", m.State())
	}
	if err := m.To(push.StateVerifying, ""); err == nil {
		t.Error("checking -> verifying should be rejected")
	}
	if err := m.To(push.StateCommitting, ""); err != nil {
		t.Fatalf("checking -> committing: %v", err)
	}
	m.Fail("commit rejected")
	if m.State() != push.StateFailed {
		t.Errorf("State = %s, want failed", m.State())
	}
	if err := m.To(push.StateDone, ""); err == nil {
		t.Error("failed is terminal")
	}
	if got := len(m.History()); got != 2 {
		t.Errorf("history = %d, want 2", got)
	}
}

func TestEndpointAddress(t *testing.T) {
	if got := (push.Endpoint{Host: "10.0.0.1"}).Address(); got != "10.0.0.1:22" {
		t.Errorf("Address = %s", got)
	}
	if got := (push.Endpoint{Host: "leaf1", Port: 830}).Address(); got != "leaf1:830" {
		t.Errorf("Address = %s", got)
	}
}
