package scenario

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsbench/mlsbench/internal/dispatch"
	"github.com/mlsbench/mlsbench/internal/endpoint"
	"github.com/mlsbench/mlsbench/internal/lg"
)

// captureRunner serves canned output and records every command it is given.
type captureRunner struct {
	mu   *sync.Mutex
	out  string
	cmds *[][]string
}

type cannedHandle struct{ out string }

func (h cannedHandle) Wait() (string, error) { return h.out, nil }

func (r *captureRunner) Start(ctx context.Context, cmds [][]string, opts endpoint.StartOpts) (endpoint.Handle, error) {
	r.mu.Lock()
	*r.cmds = append(*r.cmds, cmds...)
	r.mu.Unlock()
	return cannedHandle{out: r.out}, nil
}

func (r *captureRunner) Run(ctx context.Context, cmds [][]string, opts endpoint.StartOpts) (string, error) {
	h, _ := r.Start(ctx, cmds, opts)
	return h.Wait()
}

func captureEndpoints(names []string, out string) ([]*endpoint.Endpoint, *[][]string) {
	var mu sync.Mutex
	var got [][]string
	eps := make([]*endpoint.Endpoint, len(names))
	for i, n := range names {
		eps[i] = endpoint.New(n, &captureRunner{mu: &mu, out: out, cmds: &got})
	}
	return eps, &got
}

func TestGroupedSetup(t *testing.T) {
	names := []string{"0", "1", "2", "3"}
	eps, got := captureEndpoints(names, "")
	d := dispatch.New(lg.Discard, names, []string{"./client"})
	g := &Grouped{Log: lg.Discard, Dispatcher: d, Endpoints: eps, GroupSize: 2}

	require.NoError(t, g.Setup(context.Background()))

	// Registration hits every endpoint with a fresh start.
	assert.Contains(t, *got, []string{"./client", "--fresh-start", "register", "0"})
	assert.Contains(t, *got, []string{"./client", "--fresh-start", "register", "3"})

	// Round-robin partition: group0 = {0,2} admined by 0, group1 = {1,3}
	// admined by 1.
	assert.Contains(t, *got, []string{"./client", "create", "community0", "group0"})
	assert.Contains(t, *got, []string{"./client", "create", "community1", "group1"})
	assert.Contains(t, *got, []string{"./client", "invite", "community0", "group0", "2"})
	assert.Contains(t, *got, []string{"./client", "add", "community1", "group1", "3"})
	assert.Contains(t, *got, []string{"./client", "update-group-state", "community0", "group0"})

	// Non-admins accept their own group's invite.
	assert.Contains(t, *got, []string{"./client", "accept", "community0", "group0"})
	assert.Contains(t, *got, []string{"./client", "accept", "community1", "group1"})
	assert.NotContains(t, *got, []string{"./client", "accept", "community0", "group0", "0"})

	// Admins promote the other members, then everyone syncs once more.
	assert.Contains(t, *got, []string{"./client", "set-role", "community0", "group0", "2", "Mod"})
	assert.Contains(t, *got, []string{"./client", "set-role", "community1", "group1", "3", "Mod"})
	assert.Contains(t, *got, []string{"./client", "--skip-history-msg-update", "sync"})
}

func TestGroupedSetupRejectsUnevenRoster(t *testing.T) {
	names := []string{"0", "1", "2"}
	eps, _ := captureEndpoints(names, "")
	d := dispatch.New(lg.Discard, names, []string{"./client"})
	g := &Grouped{Log: lg.Discard, Dispatcher: d, Endpoints: eps, GroupSize: 2}
	assert.Error(t, g.Setup(context.Background()))
}
