package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/newtron-network/newtdeploy/pkg/util"
)

// SSHDialer opens interactive shell sessions over SSH.
type SSHDialer struct {
	// Prompt marks the end of a response. Nil uses DefaultPrompt.
	Prompt *regexp.Regexp

	// DialTimeout bounds the TCP connect and SSH handshake.
	DialTimeout time.Duration

	// HostKeyCallback verifies the server key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
}

// NewSSHDialer returns a dialer with the default prompt.
func NewSSHDialer() *SSHDialer {
	return &SSHDialer{Prompt: DefaultPrompt, DialTimeout: 30 * time.Second}
}

func authMethods(creds Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if creds.KeyFile != "" {
		key, err := os.ReadFile(creds.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key %s: %w", creds.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing key %s: %w", creds.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		methods = append(methods,
			ssh.Password(creds.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = creds.Password
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, errors.New("no password or key file")
	}
	return methods, nil
}

// Open dials the endpoint, requests a PTY and starts a shell.
func (d *SSHDialer) Open(ctx context.Context, ep Endpoint, creds Credentials) (Session, error) {
	auth, err := authMethods(creds)
	if err != nil {
		return nil, err
	}

	hostKey := d.HostKeyCallback
	if hostKey == nil {
		util.WithField("host", ep.Host).Debug("ssh: host key verification disabled")
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	timeout := d.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	config := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	addr := ep.Address()
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("SSH session %s: %w", addr, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("vt100", 200, 512, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("SSH pty %s: %w", addr, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("SSH shell %s: %w", addr, err)
	}

	prompt := d.Prompt
	if prompt == nil {
		prompt = DefaultPrompt
	}
	s := &sshSession{
		client: client,
		sess:   sess,
		stdin:  stdin,
		prompt: prompt,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop(stdout)
	return s, nil
}

type sshSession struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	prompt *regexp.Regexp

	chunks  chan []byte
	done    chan struct{}
	readErr error
	errMu   sync.Mutex

	// Bytes read past the last prompt.
	pending bytes.Buffer

	closeOnce sync.Once
}

func (s *sshSession) readLoop(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.errMu.Lock()
			s.readErr = err
			s.errMu.Unlock()
			close(s.chunks)
			return
		}
	}
}

func (s *sshSession) Send(text string) error {
	_, err := io.WriteString(s.stdin, text+"\n")
	return err
}

// Receive reads until the prompt appears at the end of the output or the
// timeout elapses.
func (s *sshSession) Receive(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTiming().ReceiveTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if s.atPrompt() {
			out := s.pending.String()
			s.pending.Reset()
			return out, nil
		}
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				out := s.pending.String()
				s.pending.Reset()
				s.errMu.Lock()
				err := s.readErr
				s.errMu.Unlock()
				if out != "" && errors.Is(err, io.EOF) {
					return out, nil
				}
				return out, err
			}
			s.pending.Write(chunk)
		case <-timer.C:
			out := s.pending.String()
			s.pending.Reset()
			if out == "" {
				return "", ErrReceiveTimeout
			}
			return out, nil
		}
	}
}

func (s *sshSession) atPrompt() bool {
	if s.pending.Len() == 0 {
		return false
	}
	text := strings.ReplaceAll(s.pending.String(), "\r", "")
	last := text[strings.LastIndex(text, "\n")+1:]
	return s.prompt.MatchString(last)
}

func (s *sshSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.stdin.Close()
		s.sess.Close()
		err = s.client.Close()
	})
	return err
}
