package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Outcome is the successful result of a stage.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeNoOp    Outcome = "no_op"
	OutcomeSkipped Outcome = "skipped"
)

// StageResult is one stage's successful outcome. Failures are returned as
// *util.StageFailure or *util.ConnectionFailure instead.
type StageResult struct {
	Device   string        `json:"device"`
	Stage    Stage         `json:"stage"`
	Outcome  Outcome       `json:"outcome"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Request is one device transaction for Push.
type Request struct {
	Device       string
	Commands     []string
	VerifyTarget string
	Removal      bool
}

// Report is the outcome of a full Push.
type Report struct {
	Device      string         `json:"device"`
	State       State          `json:"state"`
	NoOp        bool           `json:"no_op"`
	Stages      []*StageResult `json:"stages"`
	Transitions []Transition   `json:"transitions"`
}

// Executor runs the push protocol. Every stage opens its own session and
// closes it before returning; closing an uncommitted session discards the
// candidate configuration.
type Executor struct {
	Dialer    Dialer
	Directory Directory
	Dialect   Dialect
	Timing    Timing
}

// NewExecutor creates an Executor with the default dialect and timing.
func NewExecutor(dialer Dialer, dir Directory) *Executor {
	return &Executor{
		Dialer:    dialer,
		Directory: dir,
		Dialect:   DefaultDialect(),
		Timing:    DefaultTiming(),
	}
}

// Transaction frames commands with the opening marker and the closing commit
// marker, adding whichever is missing.
func (e *Executor) Transaction(cmds []string) []string {
	d := e.Dialect.withDefaults()
	txn := make([]string, 0, len(cmds)+2)
	for _, c := range cmds {
		if c = strings.TrimSpace(c); c != "" {
			txn = append(txn, c)
		}
	}
	if len(txn) == 0 || txn[0] != d.Configure {
		txn = append([]string{d.Configure}, txn...)
	}
	if txn[len(txn)-1] != d.Commit {
		txn = append(txn, d.Commit)
	}
	return txn
}

// Check sends the transaction with its commit marker rewritten to the
// dry-run form. Output containing a negative token fails the stage; the
// no-changes token yields OutcomeNoOp.
func (e *Executor) Check(ctx context.Context, device string, cmds []string) (*StageResult, error) {
	d := e.Dialect.withDefaults()
	txn := e.Transaction(cmds)
	txn[len(txn)-1] = d.CommitCheck

	start := time.Now()
	out, err := e.run(ctx, device, StageCheck, txn)
	if err != nil {
		return nil, err
	}

	lines := responseLines(out, txn)
	if bad, ok := findNegative(lines); ok {
		return nil, util.NewStageFailure(string(StageCheck), device, bad)
	}

	res := &StageResult{Device: device, Stage: StageCheck, Outcome: OutcomePassed, Output: out, Duration: time.Since(start)}
	if containsAny(lines, NoOpTokens) {
		res.Outcome = OutcomeNoOp
	}
	util.WithStage(device, string(StageCheck)).Debugf("check %s", res.Outcome)
	return res, nil
}

// Commit sends the transaction with the real commit marker. Without a
// positive confirmation token the commit is treated as failed.
func (e *Executor) Commit(ctx context.Context, device string, cmds []string) (*StageResult, error) {
	d := e.Dialect.withDefaults()
	txn := append(e.Transaction(cmds), d.Exit)

	start := time.Now()
	out, err := e.run(ctx, device, StageCommit, txn)
	if err != nil {
		return nil, err
	}

	lines := responseLines(out, txn)
	if bad, ok := findNegative(lines); ok {
		return nil, util.NewStageFailure(string(StageCommit), device, bad)
	}

	res := &StageResult{Device: device, Stage: StageCommit, Output: out, Duration: time.Since(start)}
	switch {
	case containsAny(lines, NoOpTokens):
		res.Outcome = OutcomeNoOp
	case containsAny(lines, PositiveTokens):
		res.Outcome = OutcomePassed
	default:
		return nil, util.NewStageFailure(string(StageCommit), device, "no commit confirmation in device output")
	}
	util.WithStage(device, string(StageCommit)).Debugf("commit %s", res.Outcome)
	return res, nil
}

// Verify queries the device for target. Normally the target must appear;
// with removal it must be absent, and an unknown, invalid or not found reply
// also confirms absence. An empty target skips the stage.
func (e *Executor) Verify(ctx context.Context, device, target string, removal bool) (*StageResult, error) {
	if target == "" {
		util.WithStage(device, string(StageVerify)).Info("no verify target, skipping")
		return &StageResult{Device: device, Stage: StageVerify, Outcome: OutcomeSkipped}, nil
	}

	query := e.Dialect.withDefaults().VerifyQuery(target)
	start := time.Now()
	out, err := e.run(ctx, device, StageVerify, []string{query})
	if err != nil {
		return nil, err
	}

	lines := responseLines(out, []string{query})
	present := targetPresent(lines, target)

	var ok bool
	var msg string
	if removal {
		ok = !present || containsAny(lines, AbsenceTokens)
		msg = fmt.Sprintf("%s still present after removal", target)
	} else {
		ok = present
		msg = fmt.Sprintf("%s missing from device output", target)
	}
	if !ok {
		return nil, util.NewStageFailure(string(StageVerify), device, msg)
	}
	return &StageResult{Device: device, Stage: StageVerify, Outcome: OutcomePassed, Output: out, Duration: time.Since(start)}, nil
}

// Push runs the whole protocol on one device.
func (e *Executor) Push(ctx context.Context, req Request) (*Report, error) {
	return e.Run(ctx, NewMachine(req.Device), req)
}

// Run drives m through the protocol for req. A no-op at check or commit
// finishes the device without the later stages.
func (e *Executor) Run(ctx context.Context, m *Machine, req Request) (*Report, error) {
	rep := &Report{Device: req.Device}
	finish := func(err error) (*Report, error) {
		if err != nil {
			m.Fail(err.Error())
		}
		rep.State = m.State()
		rep.NoOp = m.NoOp()
		rep.Transitions = m.History()
		return rep, err
	}

	res, err := e.Check(ctx, req.Device, req.Commands)
	if err != nil {
		return finish(err)
	}
	rep.Stages = append(rep.Stages, res)
	if res.Outcome == OutcomeNoOp {
		m.MarkNoOp()
		return finish(m.To(StateDone, "no changes at check"))
	}

	if err := m.To(StateCommitting, ""); err != nil {
		return finish(err)
	}
	res, err = e.Commit(ctx, req.Device, req.Commands)
	if err != nil {
		return finish(err)
	}
	rep.Stages = append(rep.Stages, res)
	if res.Outcome == OutcomeNoOp {
		m.MarkNoOp()
		return finish(m.To(StateDone, "no changes at commit"))
	}

	if err := m.To(StateVerifying, ""); err != nil {
		return finish(err)
	}
	res, err = e.Verify(ctx, req.Device, req.VerifyTarget, req.Removal)
	if err != nil {
		return finish(err)
	}
	rep.Stages = append(rep.Stages, res)
	return finish(m.To(StateDone, string(res.Outcome)))
}

// Replay applies commands one at a time inside a configuration session and
// logs each one. A rejected command is logged and the replay continues; only
// losing the session stops it.
func (e *Executor) Replay(ctx context.Context, device string, cmds []string) ([]model.CommandLog, error) {
	d := e.Dialect.withDefaults()
	s, err := e.open(ctx, device)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	log := util.WithStage(device, string(StageReplay))
	if _, err := e.exchange(s, []string{d.Configure}); err != nil {
		return nil, util.NewStageFailure(string(StageReplay), device, "session: "+err.Error())
	}

	var logs []model.CommandLog
	for _, c := range cmds {
		c = strings.TrimSpace(c)
		if c == "" || c == d.Configure {
			continue
		}
		out, err := e.exchange(s, []string{c})
		if err != nil {
			return logs, util.NewStageFailure(string(StageReplay), device, "session: "+err.Error())
		}
		entry := model.CommandLog{DeviceID: device, Command: c, OK: true, Output: strings.TrimSpace(out)}
		if bad, found := findNegative(responseLines(out, []string{c})); found {
			entry.OK = false
			entry.Error = bad
			log.Warnf("command %q rejected: %s", c, bad)
		}
		logs = append(logs, entry)
	}

	if _, err := e.exchange(s, []string{d.Exit}); err != nil {
		log.Debugf("exit after replay: %v", err)
	}
	return logs, nil
}

// run opens a session, sends lines, and returns the combined output.
func (e *Executor) run(ctx context.Context, device string, stage Stage, lines []string) (string, error) {
	s, err := e.open(ctx, device)
	if err != nil {
		return "", err
	}
	defer s.Close()

	util.WithStage(device, string(stage)).Debugf("sending %d lines", len(lines))
	out, err := e.exchange(s, lines)
	if err != nil {
		return out, util.NewStageFailure(string(stage), device, "session: "+err.Error())
	}
	return out, nil
}

func (e *Executor) open(ctx context.Context, device string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, util.NewConnectionFailure(device, err)
	}
	if e.Directory == nil || e.Dialer == nil {
		return nil, util.NewConnectionFailure(device, errors.New("no directory or dialer configured"))
	}

	t, err := e.Directory.Resolve(device)
	if err != nil {
		return nil, util.NewConnectionFailure(device, err)
	}
	if t.Credentials.Username == "" || t.Credentials.Empty() {
		return nil, util.NewConnectionFailure(device, errors.New("missing credentials"))
	}

	s, err := e.Dialer.Open(ctx, t.Endpoint, t.Credentials)
	if err != nil {
		return nil, util.NewConnectionFailure(device, err)
	}

	// Consume the login banner up to the first prompt.
	if _, err := s.Receive(e.Timing.ReceiveTimeout); err != nil && !errors.Is(err, ErrReceiveTimeout) {
		s.Close()
		return nil, util.NewConnectionFailure(device, err)
	}
	return s, nil
}

func (e *Executor) exchange(s Session, lines []string) (string, error) {
	d := e.Dialect.withDefaults()
	var out strings.Builder
	for _, line := range lines {
		if err := s.Send(line); err != nil {
			return out.String(), err
		}
		delay := e.Timing.CommandDelay
		if d.isCommitType(line) {
			delay = e.Timing.CommitDelay
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		chunk, err := s.Receive(e.Timing.ReceiveTimeout)
		out.WriteString(chunk)
		if chunk != "" && !strings.HasSuffix(chunk, "\n") {
			out.WriteByte('\n')
		}
		if err != nil && !errors.Is(err, ErrReceiveTimeout) {
			return out.String(), err
		}
	}
	return out.String(), nil
}
