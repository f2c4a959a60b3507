// Package endpoint provides the uniform execution surface over one worker
// under benchmark. An endpoint is either a local working directory that
// spawns subprocesses or a remote host reached through an established SSH
// connection; the dispatcher never branches on which.
package endpoint

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/mlsbench/mlsbench/internal/sshconn"
)

// BatchSeparator is echoed between the outputs of successive sub-commands of
// one combined execution, and is the split delimiter when the combined
// output is deserialized. The monitored binary must never emit it itself.
const BatchSeparator = "---process_separator---"

// Handle is a started execution that can be waited on exactly once. Wait
// returns the combined diagnostic (stderr) text of the whole command
// sequence, in execution order.
type Handle interface {
	Wait() (string, error)
}

// StartOpts tunes how a command sequence is launched.
type StartOpts struct {
	// Env is exported ahead of every command.
	Env map[string]string
	// NoSpace joins command tokens without separators, for templates that
	// splice shell fragments together themselves.
	NoSpace bool
	// ForceScript batches even a single local command through a synthesized
	// shell script.
	ForceScript bool
	// Seq issues indexes for synthesized script names. The dispatcher owns
	// it so concurrent local spawns never collide.
	Seq *ScriptSeq
}

func (o StartOpts) joiner() string {
	if o.NoSpace {
		return ""
	}
	return " "
}

// sortedEnv renders Env as deterministic KEY=VALUE pairs.
func (o StartOpts) sortedEnv() []string {
	if len(o.Env) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(o.Env))
	for k, v := range o.Env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// Runner executes command sequences on one backend. Start is non-blocking
// and returns a Handle; Run blocks until completion and additionally checks
// each command's output for the sanity markers.
type Runner interface {
	Start(ctx context.Context, cmds [][]string, opts StartOpts) (Handle, error)
	Run(ctx context.Context, cmds [][]string, opts StartOpts) (string, error)
}

// ScriptSeq issues unique, monotonic indexes for synthesized batch scripts.
type ScriptSeq struct {
	n atomic.Int64
}

// Next returns the next index. Safe for concurrent use.
func (s *ScriptSeq) Next() int64 { return s.n.Add(1) }

// Endpoint is one worker under benchmark. Immutable for the duration of a
// run; the backend is chosen once at construction.
type Endpoint struct {
	Name   string
	runner Runner
	close  func() error
}

// NewLocal returns an endpoint that spawns subprocesses in dir. Close
// removes the directory.
func NewLocal(name, dir string) *Endpoint {
	return &Endpoint{
		Name:   name,
		runner: &localRunner{name: name, dir: dir},
		close:  func() error { return os.RemoveAll(dir) },
	}
}

// NewRemote returns an endpoint that executes over the given SSH connection
// with dir as its remote working directory. The connection may be shared by
// several endpoints on one host, so Close does not shut it down; the dialer
// owns it.
func NewRemote(name string, client *sshconn.Client, dir string) *Endpoint {
	return &Endpoint{
		Name:   name,
		runner: &remoteRunner{name: name, client: client, dir: dir},
		close:  func() error { return nil },
	}
}

// New returns an endpoint on a caller-supplied Runner. Tests and alternative
// backends hook in here.
func New(name string, r Runner) *Endpoint {
	return &Endpoint{Name: name, runner: r, close: func() error { return nil }}
}

// Start launches cmds without waiting.
func (e *Endpoint) Start(ctx context.Context, cmds [][]string, opts StartOpts) (Handle, error) {
	return e.runner.Start(ctx, cmds, opts)
}

// Run launches cmds and blocks for the combined output.
func (e *Endpoint) Run(ctx context.Context, cmds [][]string, opts StartOpts) (string, error) {
	return e.runner.Run(ctx, cmds, opts)
}

// Close tears the endpoint down at end of run.
func (e *Endpoint) Close() error { return e.close() }

// sanityMarkers flag execution mishaps in diagnostic output: a crashed
// binary, a missing file, an unresolvable command, a logged failure.
var sanityMarkers = []string{"panic", "no such file", "command not found", "error:"}

// CheckOutput returns an error when out carries any sanity marker,
// case-insensitively.
func CheckOutput(out string) error {
	lower := strings.ToLower(out)
	for _, marker := range sanityMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("endpoint: output contains %q: %s", marker, out)
		}
	}
	return nil
}
