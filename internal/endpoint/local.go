package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// localRunner spawns the endpoint's commands as subprocesses in its working
// directory.
type localRunner struct {
	name string
	dir  string
}

// fallbackSeq backs Start calls made without a dispatcher-owned counter.
var fallbackSeq ScriptSeq

// Start spawns a single command directly; a multi-command sequence (or a
// forced batch) is synthesized into one self-deleting shell script so the
// sub-commands run strictly in order within a single execution unit.
func (r *localRunner) Start(ctx context.Context, cmds [][]string, opts StartOpts) (Handle, error) {
	if len(cmds) == 0 {
		return nil, fmt.Errorf("endpoint: %s: no commands to start", r.name)
	}

	var cmd *exec.Cmd
	if len(cmds) == 1 && !opts.ForceScript {
		cmd = exec.CommandContext(ctx, cmds[0][0], cmds[0][1:]...)
	} else {
		seq := opts.Seq
		if seq == nil {
			seq = &fallbackSeq
		}
		path := filepath.Join(r.dir, fmt.Sprintf("batch_%d.sh", seq.Next()))
		if err := os.WriteFile(path, []byte(BuildScript(cmds, opts)), 0o700); err != nil {
			return nil, fmt.Errorf("endpoint: %s: write batch script: %w", r.name, err)
		}
		cmd = exec.CommandContext(ctx, path)
	}
	cmd.Dir = r.dir
	if env := opts.sortedEnv(); env != nil {
		cmd.Env = append(os.Environ(), env...)
	}

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("endpoint: %s: start: %w", r.name, err)
	}
	return &localHandle{cmd: cmd, stderr: &stderr}, nil
}

// Run executes cmds one by one, checking each command's diagnostic output
// for the sanity markers before moving on. The returned text is the
// concatenation of all commands' stderr.
func (r *localRunner) Run(ctx context.Context, cmds [][]string, opts StartOpts) (string, error) {
	var out strings.Builder
	for _, c := range cmds {
		cmd := exec.CommandContext(ctx, c[0], c[1:]...)
		cmd.Dir = r.dir
		if env := opts.sortedEnv(); env != nil {
			cmd.Env = append(os.Environ(), env...)
		}
		var stderr bytes.Buffer
		cmd.Stdout = io.Discard
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil && !isExitError(err) {
			return "", fmt.Errorf("endpoint: %s: run %v: %w", r.name, c, err)
		}
		if err := CheckOutput(stderr.String()); err != nil {
			return "", fmt.Errorf("endpoint: %s: %w", r.name, err)
		}
		out.WriteString(stderr.String())
	}
	return out.String(), nil
}

type localHandle struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
}

// Wait blocks for process exit and returns the collected stderr. A nonzero
// exit status is not an error here: execution health is judged from the
// output markers, and batched shell fragments legitimately exit nonzero.
func (h *localHandle) Wait() (string, error) {
	if err := h.cmd.Wait(); err != nil && !isExitError(err) {
		return h.stderr.String(), err
	}
	return h.stderr.String(), nil
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// BuildScript renders the batch script that runs cmds in sequence, echoing
// the batch separator between them. Environment exports precede the
// commands; the script removes itself once it starts running.
func BuildScript(cmds [][]string, opts StartOpts) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	for _, kv := range opts.sortedEnv() {
		b.WriteString("export " + kv + "\n")
	}
	joined := make([]string, len(cmds))
	for i, c := range cmds {
		joined[i] = strings.Join(c, opts.joiner())
	}
	// The separator goes to stderr: that is the stream Wait collects.
	b.WriteString(strings.Join(joined, " \necho "+BatchSeparator+" 1>&2 \n"))
	b.WriteString(";\nrm \"$0\"\n")
	return b.String()
}
