// Package scenario runs the benchmark flows: the full group lifecycle
// (register through vote) and the grouped stress setup. Each step is one
// dispatch over the endpoint roster.
package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/mlsbench/mlsbench/internal/dispatch"
	"github.com/mlsbench/mlsbench/internal/endpoint"
	"github.com/mlsbench/mlsbench/internal/lg"
	"github.com/mlsbench/mlsbench/internal/measure"
	"github.com/mlsbench/mlsbench/internal/template"
)

// StepSink observes each completed step's measurement table, for live
// publishing. names carries the step's endpoint names, table-aligned.
type StepSink func(step string, names []string, table [][]dispatch.Measurement)

// Lifecycle is the full-group benchmark: every endpoint registers, the
// admin builds the group, members sync, message and rename actions run, and
// a rename proposed by a non-admin is voted through.
type Lifecycle struct {
	Log        lg.Logger
	Dispatcher *dispatch.Dispatcher
	Endpoints  []*endpoint.Endpoint
	Community  string
	Group      string
	// OnStep, when set, receives each step's table right after collection.
	OnStep StepSink
}

// Run executes all steps in order and returns the per-step measurement
// tables. The first endpoint acts as admin.
func (s *Lifecycle) Run(ctx context.Context) (map[string][][]dispatch.Measurement, error) {
	if len(s.Endpoints) < 2 {
		return nil, fmt.Errorf("scenario: lifecycle needs at least two endpoints")
	}
	admin := s.Endpoints[:1]
	nonAdmins := s.Endpoints[1:]
	all := s.Endpoints
	results := make(map[string][][]dispatch.Measurement)

	record := func(step string, eps []*endpoint.Endpoint, tmpl []template.Token, opts dispatch.Options) error {
		s.Log.Info("step", lg.String("name", step), lg.Int("endpoints", len(eps)))
		table, err := s.Dispatcher.Run(ctx, eps, tmpl, opts)
		if err != nil {
			return fmt.Errorf("scenario: step %s: %w", step, err)
		}
		results[step] = table
		if s.OnStep != nil {
			names := make([]string, len(eps))
			for i, ep := range eps {
				names[i] = ep.Name
			}
			s.OnStep(step, names, table)
		}
		return nil
	}
	timedUnordered := dispatch.Options{Parse: true, AddPrefix: true, Ordered: false}
	timedOrdered := dispatch.Options{Parse: true, AddPrefix: true, Ordered: true}

	if err := record("register", all,
		[]template.Token{template.Lit("register"), template.Dir(template.SelfName)},
		timedUnordered); err != nil {
		return nil, err
	}
	if err := record("create", admin,
		template.Lits("create", s.Community, s.Group), timedOrdered); err != nil {
		return nil, err
	}
	if err := record("invite_add_update", admin,
		[]template.Token{
			template.Dir(template.GovernanceSequence),
			template.Lit(s.Community), template.Lit(s.Group),
			template.Dir(template.OthersNamesJoined),
		}, timedOrdered); err != nil {
		return nil, err
	}
	if err := record("sync1", all, template.Lits("sync"), timedUnordered); err != nil {
		return nil, err
	}
	if err := record("accept", nonAdmins,
		template.Lits("accept", s.Community, s.Group), timedUnordered); err != nil {
		return nil, err
	}
	if err := record("sendtext", admin,
		template.Lits("send", s.Community, s.Group, "a-message"), timedOrdered); err != nil {
		return nil, err
	}
	if err := record("sync2", all, template.Lits("sync"), timedUnordered); err != nil {
		return nil, err
	}
	if err := record("rename", admin,
		template.Lits("rename-group", s.Community, s.Group, "admin-s-new-name"), timedOrdered); err != nil {
		return nil, err
	}
	if err := record("sync3", all, template.Lits("sync"), timedUnordered); err != nil {
		return nil, err
	}

	// A non-admin proposes the rename; its raw output carries the action ID
	// the votes refer to.
	var proposeRaw [][]string
	proposeOpts := timedUnordered
	proposeOpts.RawOut = &proposeRaw
	if err := record("rename_propose", nonAdmins[:1],
		template.Lits("rename-group", s.Community, s.Group, "voted-new-name"),
		proposeOpts); err != nil {
		return nil, err
	}
	if err := record("sync4", all, template.Lits("sync"), timedUnordered); err != nil {
		return nil, err
	}

	actionID, ok := measure.ActionUUID(strings.Join(proposeRaw[0], "\n"))
	if !ok {
		s.Log.Warn("no action ID in proposal output, skipping vote steps")
	} else {
		s.Log.Info("voting", lg.String("action", actionID))
		if err := record("vote", all,
			template.Lits("propose-vote", s.Community, s.Group, "yes", actionID, "rename-group"),
			timedUnordered); err != nil {
			return nil, err
		}
		if err := record("sync_admin_batch", all, template.Lits("sync"), timedUnordered); err != nil {
			return nil, err
		}
		if err := record("admin_batch", admin,
			template.Lits("commit-pending-votes", s.Community, s.Group), timedOrdered); err != nil {
			return nil, err
		}
		if err := record("sync5", all, template.Lits("sync"), timedUnordered); err != nil {
			return nil, err
		}

		// Every endpoint must have converged on the voted name. The state
		// dump is timed like any other step.
		var stateRaw [][]string
		verifyOpts := timedUnordered
		verifyOpts.RawOut = &stateRaw
		if err := record("verify_rename", all,
			template.Lits("show-group-state", s.Community, s.Group), verifyOpts); err != nil {
			return nil, err
		}
		const want = `SharedGroupState { name: "voted-new-name"`
		for i, chunks := range stateRaw {
			if !strings.Contains(strings.Join(chunks, "\n"), want) {
				return nil, fmt.Errorf("scenario: %s did not converge on voted name", s.Endpoints[i].Name)
			}
		}
	}
	return results, nil
}

// Clean wipes every endpoint's working directory contents after a run.
func Clean(ctx context.Context, d *dispatch.Dispatcher, eps []*endpoint.Endpoint) error {
	_, err := d.Run(ctx, eps, template.Lits("rm", "-rf", "./*"),
		dispatch.Options{ForceScript: true})
	return err
}
