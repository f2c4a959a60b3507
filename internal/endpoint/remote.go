package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/mlsbench/mlsbench/internal/sshconn"
)

// remoteRunner executes the endpoint's commands through one SSH exec call
// per sequence, with the sub-commands chained on the remote shell.
type remoteRunner struct {
	name   string
	client *sshconn.Client
	dir    string
}

func (r *remoteRunner) Start(ctx context.Context, cmds [][]string, opts StartOpts) (Handle, error) {
	if len(cmds) == 0 {
		return nil, fmt.Errorf("endpoint: %s: no commands to start", r.name)
	}
	sess, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("endpoint: %s: %w", r.name, err)
	}

	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("endpoint: %s: stderr pipe: %w", r.name, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("endpoint: %s: stdout pipe: %w", r.name, err)
	}

	if err := sess.Start(BuildRemoteCommand(cmds, r.dir, opts)); err != nil {
		sess.Close()
		return nil, fmt.Errorf("endpoint: %s: start: %w", r.name, err)
	}

	h := &remoteHandle{sess: sess, done: make(chan error, 1)}
	// Both streams are drained continuously while the command runs; letting
	// either back up against the channel window would deadlock the session.
	var drained sync.WaitGroup
	drained.Add(2)
	go func() {
		defer drained.Done()
		io.Copy(&h.stderr, stderr)
	}()
	go func() {
		defer drained.Done()
		io.Copy(io.Discard, stdout)
	}()
	go func() {
		werr := sess.Wait()
		drained.Wait()
		h.done <- werr
	}()
	return h, nil
}

func (r *remoteRunner) Run(ctx context.Context, cmds [][]string, opts StartOpts) (string, error) {
	h, err := r.Start(ctx, cmds, opts)
	if err != nil {
		return "", err
	}
	return h.Wait()
}

type remoteHandle struct {
	sess   *ssh.Session
	stderr bytes.Buffer
	done   chan error
}

// Wait blocks until the remote command signals completion and both streams
// hit EOF. Remote exit status mirrors the local backend: nonzero exits are
// diagnosed from the output, not surfaced as errors.
func (h *remoteHandle) Wait() (string, error) {
	err := <-h.done
	h.sess.Close()
	if err != nil && !isRemoteExitError(err) {
		return h.stderr.String(), err
	}
	return h.stderr.String(), nil
}

func isRemoteExitError(err error) bool {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	return errors.As(err, &exitErr) || errors.As(err, &missing)
}

// BuildRemoteCommand joins cmds into one remote shell invocation: commands
// are &&-chained with echoes of the batch separator between them, each
// command is preceded by its environment exports, and a configured working
// directory prefixes a cd into it.
func BuildRemoteCommand(cmds [][]string, dir string, opts StartOpts) string {
	env := opts.sortedEnv()
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		s := strings.Join(c, opts.joiner())
		if len(env) > 0 {
			exports := make([]string, len(env))
			for j, kv := range env {
				exports[j] = "export " + kv
			}
			s = strings.Join(exports, " && ") + " && " + s
		}
		parts[i] = s
	}
	// The separator goes to stderr, the stream Wait collects.
	cmdStr := strings.Join(parts, " && echo "+BatchSeparator+" 1>&2 && ")
	if dir != "" {
		cmdStr = "cd " + dir + ";" + cmdStr
	}
	return cmdStr
}
