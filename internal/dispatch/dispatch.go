// Package dispatch fans one command template out to many endpoints, waits
// under strict or relaxed ordering, and reduces the collected diagnostic
// text into per-endpoint measurement tables.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mlsbench/mlsbench/internal/endpoint"
	"github.com/mlsbench/mlsbench/internal/lg"
	"github.com/mlsbench/mlsbench/internal/measure"
	"github.com/mlsbench/mlsbench/internal/template"
)

// crashMarker anywhere in collected output aborts the whole dispatch.
const crashMarker = "panic"

// Measurement groups the records extracted from one sub-command's output.
type Measurement struct {
	Time      []measure.TimeRecord      `json:"Time"`
	Bandwidth []measure.BandwidthRecord `json:"Bandwidth"`
}

// Options tunes one dispatch call.
type Options struct {
	// Ordered serializes endpoints: each is started and waited on before
	// the next. Unordered starts all endpoints concurrently and joins in
	// input order.
	Ordered bool
	// Parse extracts measurements from every sub-command output and
	// requires at least one Time record per output.
	Parse bool
	// AddPrefix prepends the dispatcher's command prefix to the template.
	AddPrefix bool
	// NoSpace joins command tokens without separators.
	NoSpace bool
	// ForceScript batches even single local commands through a script.
	ForceScript bool
	// Env is exported ahead of every command.
	Env map[string]string
	// RosterOverride replaces the dispatcher roster for this call's
	// multiplying directives.
	RosterOverride []string
	// Groups resolves the mapped community/group directives.
	Groups map[string][]template.CommGroup
	// RawOut, when non-nil, receives each endpoint's raw per-sub-command
	// outputs as a side channel.
	RawOut *[][]string
}

// Dispatcher multiplexes concurrent executions over a fixed roster. It owns
// the mutable odds and ends of a run, so several dispatchers can coexist in
// one process (and in tests).
type Dispatcher struct {
	log    lg.Logger
	roster []string
	prefix []string
	seq    endpoint.ScriptSeq
	memo   commandMemo
}

// New returns a Dispatcher over the given endpoint-name roster. prefix is
// the argument vector prepended when Options.AddPrefix is set.
func New(log lg.Logger, roster, prefix []string) *Dispatcher {
	return &Dispatcher{log: log, roster: roster, prefix: prefix}
}

// Run expands tmpl for every endpoint, executes, and returns the
// measurement table ordered by endpoint input order. With Options.Parse
// unset the table is nil and only execution is ensured.
//
// Any failure aborts the whole call: partially collected measurements are
// not salvaged.
func (d *Dispatcher) Run(ctx context.Context, eps []*endpoint.Endpoint, tmpl []template.Token, opts Options) ([][]Measurement, error) {
	runID := uuid.New()
	log := d.log.With(lg.String("dispatch", runID.String()))

	tctx := template.Context{Roster: d.roster, Groups: opts.Groups}
	if opts.RosterOverride != nil {
		tctx.Roster = opts.RosterOverride
	}
	var prefix []string
	if opts.AddPrefix {
		prefix = d.prefix
	}
	startOpts := endpoint.StartOpts{
		Env:         opts.Env,
		NoSpace:     opts.NoSpace,
		ForceScript: opts.ForceScript,
		Seq:         &d.seq,
	}

	// Expansion errors surface synchronously, before anything executes.
	expanded := make([][][]string, len(eps))
	for i, ep := range eps {
		cmds, err := template.Expand(ep.Name, tmpl, prefix, tctx)
		if err != nil {
			return nil, err
		}
		expanded[i] = cmds
		d.logCommands(log, ep.Name, cmds)
	}

	raws := make([]string, len(eps))
	if opts.Ordered {
		// Ordering serializes endpoints against each other; an endpoint's
		// own sub-commands still run as one batched execution so the
		// separator lands between their outputs.
		for i, ep := range eps {
			h, err := ep.Start(ctx, expanded[i], startOpts)
			if err != nil {
				return nil, err
			}
			out, err := h.Wait()
			if err != nil {
				return nil, err
			}
			raws[i] = out
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, ep := range eps {
			i, ep := i, ep
			g.Go(func() error {
				h, err := ep.Start(gctx, expanded[i], startOpts)
				if err != nil {
					return err
				}
				out, err := h.Wait()
				if err != nil {
					return err
				}
				raws[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	for i, raw := range raws {
		if strings.Contains(strings.ToLower(raw), crashMarker) {
			return nil, fmt.Errorf("dispatch: crash detected on %s: %s", eps[i].Name, raw)
		}
	}

	table := make([][]Measurement, 0, len(eps))
	for i, raw := range raws {
		chunks := []string{raw}
		if strings.Contains(raw, endpoint.BatchSeparator) {
			chunks = strings.Split(raw, endpoint.BatchSeparator)
		}
		if opts.RawOut != nil {
			*opts.RawOut = append(*opts.RawOut, chunks)
		}
		if !opts.Parse {
			continue
		}
		ms := make([]Measurement, 0, len(chunks))
		for _, chunk := range chunks {
			times, bands, err := measure.Extract(chunk)
			if err != nil {
				return nil, fmt.Errorf("dispatch: %s: %w", eps[i].Name, err)
			}
			if len(times) == 0 {
				return nil, fmt.Errorf("dispatch: %s: no time measurements; forgot to disable parsing? output: %s", eps[i].Name, chunk)
			}
			ms = append(ms, Measurement{Time: times, Bandwidth: bands})
		}
		table = append(table, ms)
	}
	if !opts.Parse {
		return nil, nil
	}
	return table, nil
}

// logCommands logs an endpoint's expansion once per distinct command shape.
// Fan-outs send near-identical commands to hundreds of endpoints, so
// repeats within edit distance 2 (digits ignored) stay at debug level.
func (d *Dispatcher) logCommands(log lg.Logger, name string, cmds [][]string) {
	rendered := fmt.Sprintf("%v", cmds)
	if d.memo.firstOrChanged(rendered) {
		log.Info("sending commands", lg.String("endpoint", name), lg.String("commands", rendered))
		return
	}
	log.Debug("sending commands", lg.String("endpoint", name), lg.String("commands", rendered))
}
