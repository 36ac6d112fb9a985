// Package testutil provides a scripted fake device channel for unit tests
// and Redis helpers for integration tests.
package testutil

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/push"
)

// DefaultCommitResponse is returned for a bare commit with no scripted reply.
const DefaultCommitResponse = "commit complete"

type rule struct {
	contains string
	exact    string
	response string
}

// FakeDevice is one scripted device.
type FakeDevice struct {
	mu       sync.Mutex
	id       string
	prompt   string
	rules    []rule
	refuse   error
	drop     map[string]bool
	sent     []string
	sessions int
}

// Respond scripts the reply to an exact command.
func (d *FakeDevice) Respond(command, response string) *FakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, rule{exact: command, response: response})
	return d
}

// RespondContains scripts the reply to any command containing substr.
func (d *FakeDevice) RespondContains(substr, response string) *FakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, rule{contains: substr, response: response})
	return d
}

// Refuse makes every Open for this device fail with err.
func (d *FakeDevice) Refuse(err error) *FakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = err
	return d
}

// DropOn makes Send fail with io.EOF when command is sent.
func (d *FakeDevice) DropOn(command string) *FakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drop == nil {
		d.drop = make(map[string]bool)
	}
	d.drop[command] = true
	return d
}

// reply picks the most recently scripted matching rule.
func (d *FakeDevice) reply(cmd string) string {
	for i := len(d.rules) - 1; i >= 0; i-- {
		r := d.rules[i]
		if (r.exact != "" && r.exact == cmd) || (r.contains != "" && strings.Contains(cmd, r.contains)) {
			return r.response
		}
	}
	if cmd == "commit" {
		return DefaultCommitResponse
	}
	return ""
}

// FakeDialer implements push.Dialer over scripted devices keyed by host.
type FakeDialer struct {
	mu      sync.Mutex
	devices map[string]*FakeDevice
}

// NewFakeDialer creates an empty FakeDialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{devices: make(map[string]*FakeDevice)}
}

// Device returns the scripted device for id, creating it on first use.
func (f *FakeDialer) Device(id string) *FakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		d = &FakeDevice{id: id, prompt: id + "#"}
		f.devices[id] = d
	}
	return d
}

// Directory resolves every known device to itself with test credentials.
func (f *FakeDialer) Directory() push.StaticDirectory {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := make(push.StaticDirectory, len(f.devices))
	for id := range f.devices {
		dir[id] = push.Target{
			Endpoint:    push.Endpoint{Host: id, Port: 22},
			Credentials: push.Credentials{Username: "admin", Password: "admin"},
		}
	}
	return dir
}

// Open implements push.Dialer.
func (f *FakeDialer) Open(ctx context.Context, ep push.Endpoint, _ push.Credentials) (push.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := f.Device(ep.Host)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse != nil {
		return nil, d.refuse
	}
	d.sessions++
	return &fakeSession{dev: d, pending: "Welcome to " + d.id + "\n" + d.prompt}, nil
}

// Sent returns every line sent to a device, across sessions.
func (f *FakeDialer) Sent(id string) []string {
	d := f.Device(id)
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

// Count returns how many times command was sent to a device.
func (f *FakeDialer) Count(id, command string) int {
	n := 0
	for _, s := range f.Sent(id) {
		if s == command {
			n++
		}
	}
	return n
}

// Sessions returns how many sessions were opened to a device.
func (f *FakeDialer) Sessions(id string) int {
	d := f.Device(id)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions
}

type fakeSession struct {
	dev     *FakeDevice
	pending string
	closed  bool
}

func (s *fakeSession) Send(text string) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.dev.sent = append(s.dev.sent, text)
	if s.dev.drop[text] {
		return io.EOF
	}

	var b strings.Builder
	b.WriteString(text + "\n")
	if r := s.dev.reply(text); r != "" {
		b.WriteString(r + "\n")
	}
	b.WriteString(s.dev.prompt)
	s.pending += b.String()
	return nil
}

func (s *fakeSession) Receive(time.Duration) (string, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.pending == "" {
		return "", push.ErrReceiveTimeout
	}
	out := s.pending
	s.pending = ""
	return out, nil
}

func (s *fakeSession) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.closed = true
	return nil
}
