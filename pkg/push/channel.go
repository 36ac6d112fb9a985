// Package push runs the check, commit, and verify protocol against one
// network device over an interactive command session.
package push

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/util"
)

// ErrReceiveTimeout is returned by Session.Receive when nothing arrived
// before the timeout. Partial output with a timeout is not an error.
var ErrReceiveTimeout = errors.New("receive timeout")

// Endpoint is a device's management address.
type Endpoint struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Address returns host:port, defaulting the port to 22.
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// Credentials authenticate a session.
type Credentials struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password,omitempty" json:"-"`
	KeyFile  string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

// Empty reports whether no secret is configured.
func (c Credentials) Empty() bool {
	return c.Password == "" && c.KeyFile == ""
}

// Target is a resolved device.
type Target struct {
	Endpoint    Endpoint
	Credentials Credentials
}

// Session is one interactive command channel. Sessions are never shared
// between goroutines.
type Session interface {
	Send(text string) error
	Receive(timeout time.Duration) (string, error)
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Open(ctx context.Context, ep Endpoint, creds Credentials) (Session, error)
}

// Directory resolves device identifiers to endpoints and credentials.
type Directory interface {
	Resolve(deviceID string) (Target, error)
}

// StaticDirectory is a fixed map of targets.
type StaticDirectory map[string]Target

// Resolve implements Directory.
func (d StaticDirectory) Resolve(deviceID string) (Target, error) {
	t, ok := d[deviceID]
	if !ok {
		return Target{}, fmt.Errorf("device %s: %w", deviceID, util.ErrNotFound)
	}
	return t, nil
}
