package sshx

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	netagent "github.com/fleetops/netagent"
	"github.com/fleetops/netagent/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

const (
	defaultSSHPort     = 22
	defaultDialTimeout = 10 * time.Second
)

// Transport dials SSH command sessions to devices. It implements
// netagent.Transport.
type Transport struct {
	resolver netagent.CredentialResolver
	timeout  time.Duration
}

// NewTransport builds an SSH transport using resolver for per-device
// credentials. timeout <= 0 selects the default dial timeout.
func NewTransport(resolver netagent.CredentialResolver, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &Transport{resolver: resolver, timeout: timeout}
}

// Dial resolves credentials and opens an SSH connection to dev. Credential
// resolution failure is terminal for the device: the error is not
// transport-classified, so the orchestrator will not retry it.
func (t *Transport) Dial(ctx context.Context, dev netagent.Device) (netagent.Session, error) {
	creds, err := t.resolver.Resolve(dev)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve credentials for %s failed", dev.Address)
	}
	port := creds.Port
	if port <= 0 {
		port = defaultSSHPort
	}
	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.timeout,
	}
	addr := net.JoinHostPort(dev.Address, fmt.Sprintf("%d", port))

	dialer := net.Dialer{Timeout: t.timeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", addr)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(rawConn, addr, cfg)
	if err != nil {
		rawConn.Close()
		return nil, errors.Wrapf(err, "ssh handshake with %s failed", addr)
	}
	log.Debug().Str("device", dev.Address).Str("user", creds.Username).Msg("ssh session established")
	return &session{client: ssh.NewClient(sshConn, chans, reqs), addr: dev.Address}, nil
}

// session is one live SSH connection; each Run opens a fresh exec channel
// over it.
type session struct {
	client *ssh.Client
	addr   string
}

func (s *session) Run(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", errors.Wrapf(s.wrapTransport(err), "open exec channel to %s failed", s.addr)
	}
	defer sess.Close()

	type execResult struct {
		output []byte
		err    error
	}
	done := make(chan execResult, 1)
	go func() {
		output, err := sess.CombinedOutput(command)
		done <- execResult{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		// Abandon the channel; the pooled connection is evicted by the
		// caller once the failure classifies as a timeout.
		sess.Close()
		return "", errors.Wrapf(ctx.Err(), "command on %s timed out", s.addr)
	case res := <-done:
		if res.err != nil {
			return "", errors.Wrapf(res.err, "command on %s failed", s.addr)
		}
		return string(res.output), nil
	}
}

func (s *session) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "keepalive to %s timed out", s.addr)
	case err := <-done:
		if err != nil {
			return errors.Wrapf(err, "keepalive to %s failed", s.addr)
		}
		return nil
	}
}

func (s *session) Close() error {
	return s.client.Close()
}

// wrapTransport normalizes ssh client errors that indicate a dead
// connection so classification lands in the connection category.
func (s *session) wrapTransport(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "use of closed network connection") || strings.Contains(msg, "eof") {
		return errors.Wrap(err, "connection timed out")
	}
	return err
}

// EnvCredentialResolver resolves credential references from environment
// variables of the form NETAGENT_CRED_<REF>_USER / _PASS / _PORT.
type EnvCredentialResolver struct{}

func (EnvCredentialResolver) Resolve(dev netagent.Device) (netagent.Credentials, error) {
	ref := strings.ToUpper(strings.TrimSpace(dev.CredentialRef))
	if ref == "" {
		return netagent.Credentials{}, errors.Errorf("device %s has no credential reference", dev.Address)
	}
	ref = strings.NewReplacer("-", "_", ".", "_").Replace(ref)
	user := config.String("NETAGENT_CRED_"+ref+"_USER", "")
	pass := config.String("NETAGENT_CRED_"+ref+"_PASS", "")
	if user == "" || pass == "" {
		return netagent.Credentials{}, errors.Errorf("credential reference %s for device %s is not configured", dev.CredentialRef, dev.Address)
	}
	return netagent.Credentials{
		Username: user,
		Password: pass,
		Port:     config.Int("NETAGENT_CRED_"+ref+"_PORT", defaultSSHPort),
	}, nil
}
