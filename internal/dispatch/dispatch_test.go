package dispatch_test

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsbench/mlsbench/internal/dispatch"
	"github.com/mlsbench/mlsbench/internal/endpoint"
	"github.com/mlsbench/mlsbench/internal/lg"
	"github.com/mlsbench/mlsbench/internal/template"
)

// stubRunner serves canned output after an optional delay and records the
// order in which executions complete.
type stubRunner struct {
	name  string
	out   string
	delay time.Duration
	trace *callTrace
}

type callTrace struct {
	mu    sync.Mutex
	order []string
}

func (t *callTrace) add(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = append(t.order, name)
}

type stubHandle struct {
	run func() (string, error)
}

func (h *stubHandle) Wait() (string, error) { return h.run() }

func (r *stubRunner) Start(ctx context.Context, cmds [][]string, opts endpoint.StartOpts) (endpoint.Handle, error) {
	return &stubHandle{run: func() (string, error) {
		time.Sleep(r.delay)
		if r.trace != nil {
			r.trace.add(r.name)
		}
		return r.out, nil
	}}, nil
}

func (r *stubRunner) Run(ctx context.Context, cmds [][]string, opts endpoint.StartOpts) (string, error) {
	h, _ := r.Start(ctx, cmds, opts)
	return h.Wait()
}

func timerOut(desc string) string {
	return fmt.Sprintf(`[Timer-JSON]{"description":%q,"nanoseconds":1}`, desc)
}

func stubEndpoints(n int, trace *callTrace, delays func(i int) time.Duration) ([]*endpoint.Endpoint, []string) {
	eps := make([]*endpoint.Endpoint, n)
	roster := make([]string, n)
	for i := range eps {
		name := fmt.Sprintf("%d", i)
		roster[i] = name
		var d time.Duration
		if delays != nil {
			d = delays(i)
		}
		eps[i] = endpoint.New(name, &stubRunner{
			name:  name,
			out:   timerOut("ep-" + name),
			delay: d,
			trace: trace,
		})
	}
	return eps, roster
}

func TestRunUnorderedJoinsInInputOrder(t *testing.T) {
	// Later endpoints finish first; the table must still follow input order.
	trace := &callTrace{}
	eps, roster := stubEndpoints(5, trace, func(i int) time.Duration {
		return time.Duration(5-i) * 20 * time.Millisecond
	})
	d := dispatch.New(lg.Discard, roster, nil)

	table, err := d.Run(context.Background(), eps, template.Lits("sync"),
		dispatch.Options{Parse: true})
	require.NoError(t, err)
	require.Len(t, table, 5)
	for i := range table {
		require.Len(t, table[i], 1)
		assert.Equal(t, fmt.Sprintf("ep-%d", i), table[i][0].Time[0].Description)
	}
	// Completion order was the reverse of input order.
	assert.Equal(t, []string{"4", "3", "2", "1", "0"}, trace.order)
}

func TestRunOrderedSerializesEndpoints(t *testing.T) {
	trace := &callTrace{}
	eps, roster := stubEndpoints(4, trace, func(i int) time.Duration {
		return time.Duration(4-i) * 5 * time.Millisecond
	})
	d := dispatch.New(lg.Discard, roster, nil)

	table, err := d.Run(context.Background(), eps, template.Lits("sync"),
		dispatch.Options{Ordered: true, Parse: true})
	require.NoError(t, err)
	require.Len(t, table, 4)
	// Serialized execution completes strictly in input order regardless of
	// per-endpoint latency.
	assert.Equal(t, []string{"0", "1", "2", "3"}, trace.order)
	for i := range table {
		assert.Equal(t, fmt.Sprintf("ep-%d", i), table[i][0].Time[0].Description)
	}
}

func TestRunOrderedMatchesUnorderedForBatches(t *testing.T) {
	// A multi-command expansion must batch into one execution per endpoint
	// in both modes, so the tables come out identical.
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	tmpl := []template.Token{
		template.Lit(`echo '[Timer-JSON]{"description":"`),
		template.Dir(template.AllNames),
		template.Lit(`","nanoseconds":1}' 1>&2`),
	}
	roster := []string{"one", "two"}
	run := func(ordered bool) [][]dispatch.Measurement {
		eps := []*endpoint.Endpoint{
			endpoint.NewLocal("one", t.TempDir()),
			endpoint.NewLocal("two", t.TempDir()),
		}
		d := dispatch.New(lg.Discard, roster, nil)
		table, err := d.Run(context.Background(), eps, tmpl,
			dispatch.Options{Ordered: ordered, Parse: true, NoSpace: true})
		require.NoError(t, err)
		return table
	}
	ordered := run(true)
	unordered := run(false)

	require.Len(t, ordered, 2)
	for i := range ordered {
		require.Len(t, ordered[i], 2, "endpoint %d: one Measurement per sub-command", i)
		assert.Equal(t, "one", ordered[i][0].Time[0].Description)
		assert.Equal(t, "two", ordered[i][1].Time[0].Description)
	}
	assert.Equal(t, unordered, ordered)
}

func TestRunCrashMarkerAborts(t *testing.T) {
	for _, ordered := range []bool{true, false} {
		t.Run(fmt.Sprintf("ordered=%v", ordered), func(t *testing.T) {
			eps := []*endpoint.Endpoint{
				endpoint.New("0", &stubRunner{out: timerOut("ok")}),
				endpoint.New("1", &stubRunner{out: "thread Panicked: boom\n" + timerOut("x")}),
			}
			d := dispatch.New(lg.Discard, []string{"0", "1"}, nil)
			_, err := d.Run(context.Background(), eps, template.Lits("sync"),
				dispatch.Options{Ordered: ordered, Parse: true})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "1")
			assert.Contains(t, err.Error(), "crash")
		})
	}
}

func TestRunSplitsBatchedOutput(t *testing.T) {
	out := timerOut("step1") + "\n" +
		endpoint.BatchSeparator + "\n" +
		timerOut("step2")
	eps := []*endpoint.Endpoint{endpoint.New("0", &stubRunner{out: out})}
	d := dispatch.New(lg.Discard, []string{"0"}, nil)

	table, err := d.Run(context.Background(), eps, template.Lits("a", "b"),
		dispatch.Options{Parse: true})
	require.NoError(t, err)
	require.Len(t, table, 1)
	require.Len(t, table[0], 2)
	assert.Equal(t, "step1", table[0][0].Time[0].Description)
	assert.Equal(t, "step2", table[0][1].Time[0].Description)
}

func TestRunParseRequiresTimeRecords(t *testing.T) {
	eps := []*endpoint.Endpoint{endpoint.New("0", &stubRunner{out: "nothing structured"})}
	d := dispatch.New(lg.Discard, []string{"0"}, nil)
	_, err := d.Run(context.Background(), eps, template.Lits("sync"),
		dispatch.Options{Parse: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no time measurements")
}

func TestRunWithoutParseReturnsNilTable(t *testing.T) {
	eps := []*endpoint.Endpoint{endpoint.New("0", &stubRunner{out: "free-form text"})}
	d := dispatch.New(lg.Discard, []string{"0"}, nil)
	table, err := d.Run(context.Background(), eps, template.Lits("clean"),
		dispatch.Options{})
	require.NoError(t, err)
	assert.Nil(t, table)
}

func TestRunRawOutSideChannel(t *testing.T) {
	out := "chunk one\n" + endpoint.BatchSeparator + "\nchunk two"
	eps := []*endpoint.Endpoint{endpoint.New("0", &stubRunner{out: out})}
	d := dispatch.New(lg.Discard, []string{"0"}, nil)

	var raw [][]string
	_, err := d.Run(context.Background(), eps, template.Lits("show"),
		dispatch.Options{RawOut: &raw})
	require.NoError(t, err)
	require.Len(t, raw, 1)
	require.Len(t, raw[0], 2)
	assert.Contains(t, raw[0][0], "chunk one")
	assert.Contains(t, raw[0][1], "chunk two")
}

func TestRunExpansionErrorBeforeExecution(t *testing.T) {
	trace := &callTrace{}
	eps, _ := stubEndpoints(2, trace, nil)
	// The roster omits the endpoints, so OthersName cannot expand.
	d := dispatch.New(lg.Discard, []string{"x", "y"}, nil)
	_, err := d.Run(context.Background(), eps,
		[]template.Token{template.Dir(template.OthersName)}, dispatch.Options{})
	require.Error(t, err)
	assert.Empty(t, trace.order)
}

func TestRunAddPrefix(t *testing.T) {
	var got [][]string
	r := &recordingRunner{cmds: &got}
	eps := []*endpoint.Endpoint{endpoint.New("0", r)}
	d := dispatch.New(lg.Discard, []string{"0"}, []string{"./client", "--verbose"})
	_, err := d.Run(context.Background(), eps, template.Lits("send", "hi"),
		dispatch.Options{AddPrefix: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"./client", "--verbose", "send", "hi"}, got[0])
}

// recordingRunner captures the expanded commands it is given.
type recordingRunner struct {
	mu   sync.Mutex
	cmds *[][]string
}

func (r *recordingRunner) Start(ctx context.Context, cmds [][]string, opts endpoint.StartOpts) (endpoint.Handle, error) {
	r.mu.Lock()
	*r.cmds = append(*r.cmds, cmds...)
	r.mu.Unlock()
	return &stubHandle{run: func() (string, error) { return "", nil }}, nil
}

func (r *recordingRunner) Run(ctx context.Context, cmds [][]string, opts endpoint.StartOpts) (string, error) {
	h, _ := r.Start(ctx, cmds, opts)
	return h.Wait()
}
