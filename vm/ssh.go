/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package vm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHDialer connects to instances over SSH with a private key.
type SSHDialer struct {
	User    string
	Port    int
	Timeout time.Duration
	signer  ssh.Signer
}

var _ Dialer = (*SSHDialer)(nil)

// NewSSHDialer parses a PEM private key for user.
func NewSSHDialer(user string, privateKeyPEM []byte) (*SSHDialer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh private key: %w", err)
	}
	return &SSHDialer{User: user, Port: 22, Timeout: 10 * time.Second, signer: signer}, nil
}

// PublicKey returns the authorized_keys line for the dialer's key.
func (d *SSHDialer) PublicKey() string {
	return string(bytes.TrimSpace(ssh.MarshalAuthorizedKey(d.signer.PublicKey())))
}

func (d *SSHDialer) Dial(ctx context.Context, host string) (Runner, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(d.Port))
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User: d.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(d.signer)},
		// Instances are created moments before we connect; there is no
		// known host key to pin.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         d.Timeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &sshRunner{client: ssh.NewClient(c, chans, reqs)}, nil
}

type sshRunner struct {
	client *ssh.Client
}

func (r *sshRunner) Run(ctx context.Context, cmd string, stdin []byte) (CommandResult, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return CommandResult{}, fmt.Errorf("opening session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return CommandResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}, ctx.Err()
	case err := <-done:
		res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
		var exitErr *ssh.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitStatus()
		default:
			return res, err
		}
		return res, nil
	}
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}
