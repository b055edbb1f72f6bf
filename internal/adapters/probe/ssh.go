package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/target/netops-go/internal/core"
)

const (
	defaultSSHPort        = 22
	defaultCommandTimeout = 30 * time.Second
)

// SSHRunner executes CLI commands over SSH with password authentication.
// Each Run dials its own connection, so the runner is safe for concurrent
// use.
type SSHRunner struct{}

// NewSSHRunner creates an SSH command runner.
func NewSSHRunner() *SSHRunner {
	return &SSHRunner{}
}

// Run executes one command and returns combined stdout and stderr. Failed
// connects and failed logins return empty output with a nil error; the
// caller decides whether empty output fails the action. A non-zero exit
// still yields the device's output, since CLI error text is data for the
// parser.
func (r *SSHRunner) Run(ctx context.Context, p core.CommandRunParams) (string, error) {
	ip := strings.TrimSpace(p.IP)
	if ip == "" {
		return "", errors.New("ip is required")
	}
	if strings.TrimSpace(p.Command) == "" {
		return "", errors.New("command is required")
	}
	port := p.Credentials.Port
	if port <= 0 {
		port = defaultSSHPort
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	password := p.Credentials.Password
	cfg := &ssh.ClientConfig{
		User: p.Credentials.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			// Network gear often runs keyboard-interactive instead of plain
			// password auth; answer every challenge with the password.
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		// Device host keys are not tracked.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", nil
	}

	conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		_ = netConn.Close()
		return "", nil
	}
	client := ssh.NewClient(conn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", nil
	}
	defer session.Close()

	done := make(chan string, 1)
	go func() {
		output, _ := session.CombinedOutput(p.Command)
		done <- string(output)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case output := <-done:
		return output, nil
	case <-timer.C:
		// Hung command; closing the client unblocks the session goroutine.
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
