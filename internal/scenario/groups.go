package scenario

import (
	"context"
	"fmt"

	"github.com/mlsbench/mlsbench/internal/dispatch"
	"github.com/mlsbench/mlsbench/internal/endpoint"
	"github.com/mlsbench/mlsbench/internal/lg"
	"github.com/mlsbench/mlsbench/internal/template"
)

// Partition splits a roster into disjoint groups of groupSize and maps each
// endpoint to its group's community/group names.
type Partition struct {
	// Groups holds the member names per group, group order by index.
	Groups [][]string
	// Admins is the first member of each group.
	Admins []string
	// Mapping resolves the mapped community/group directives per endpoint.
	Mapping map[string][]template.CommGroup
}

// PartitionGroups assigns members round-robin across groups so that members
// of one group spread over the host roster rather than clustering on one
// machine. names must divide evenly into groups of groupSize.
func PartitionGroups(names []string, groupSize int) (*Partition, error) {
	if groupSize < 1 || len(names)%groupSize != 0 {
		return nil, fmt.Errorf("scenario: cannot split %d endpoints into groups of %d", len(names), groupSize)
	}
	numGroups := len(names) / groupSize
	p := &Partition{
		Groups:  make([][]string, numGroups),
		Admins:  make([]string, numGroups),
		Mapping: make(map[string][]template.CommGroup, len(names)),
	}
	for g := 0; g < numGroups; g++ {
		cg := template.CommGroup{
			Community: fmt.Sprintf("community%d", g),
			Group:     fmt.Sprintf("group%d", g),
		}
		for i := 0; i < groupSize; i++ {
			name := names[i*numGroups+g]
			p.Groups[g] = append(p.Groups[g], name)
			p.Mapping[name] = []template.CommGroup{cg}
		}
		p.Admins[g] = p.Groups[g][0]
	}
	return p, nil
}

// Grouped prepares many disjoint groups at once, exercising per-group
// rosters and the mapped community/group directives. It is the setup phase
// of the stress benchmark: after Setup every group exists, all members have
// accepted, and non-admins are promoted to moderators.
type Grouped struct {
	Log        lg.Logger
	Dispatcher *dispatch.Dispatcher
	Endpoints  []*endpoint.Endpoint
	GroupSize  int
}

// Setup builds all groups. Endpoints are matched to partition members by
// name.
func (g *Grouped) Setup(ctx context.Context) error {
	names := make([]string, len(g.Endpoints))
	byName := make(map[string]*endpoint.Endpoint, len(g.Endpoints))
	for i, ep := range g.Endpoints {
		names[i] = ep.Name
		byName[ep.Name] = ep
	}
	part, err := PartitionGroups(names, g.GroupSize)
	if err != nil {
		return err
	}

	run := func(step string, eps []*endpoint.Endpoint, tmpl []template.Token, opts dispatch.Options) error {
		g.Log.Info("group setup step", lg.String("name", step), lg.Int("endpoints", len(eps)))
		if _, err := g.Dispatcher.Run(ctx, eps, tmpl, opts); err != nil {
			return fmt.Errorf("scenario: group setup %s: %w", step, err)
		}
		return nil
	}

	if err := run("register", g.Endpoints,
		[]template.Token{template.Lit("--fresh-start"), template.Lit("register"), template.Dir(template.SelfName)},
		dispatch.Options{AddPrefix: true}); err != nil {
		return err
	}

	for gi, members := range part.Groups {
		admin := []*endpoint.Endpoint{byName[part.Admins[gi]]}
		if err := run("create", admin,
			[]template.Token{
				template.Lit("create"),
				template.Dir(template.MappedCommunityName),
				template.Dir(template.MappedGroupName),
			},
			dispatch.Options{AddPrefix: true, Ordered: true, Groups: part.Mapping}); err != nil {
			return err
		}
		if err := run("invite_add_update", admin,
			[]template.Token{
				template.Dir(template.GovernanceSequence),
				template.Dir(template.MappedCommunityName),
				template.Dir(template.MappedGroupName),
				template.Dir(template.OthersNamesJoined),
			},
			dispatch.Options{
				AddPrefix:      true,
				Ordered:        true,
				Groups:         part.Mapping,
				RosterOverride: members,
			}); err != nil {
			return err
		}
	}

	if err := run("sync", g.Endpoints, template.Lits("sync"),
		dispatch.Options{AddPrefix: true}); err != nil {
		return err
	}

	// Everyone but a group admin accepts their group's invite.
	nonAdmins := make([]*endpoint.Endpoint, 0, len(g.Endpoints))
	admins := make(map[string]bool, len(part.Admins))
	for _, a := range part.Admins {
		admins[a] = true
	}
	for _, ep := range g.Endpoints {
		if !admins[ep.Name] {
			nonAdmins = append(nonAdmins, ep)
		}
	}
	if err := run("accept", nonAdmins,
		[]template.Token{
			template.Lit("accept"),
			template.Dir(template.MappedCommunityName),
			template.Dir(template.MappedGroupName),
		},
		dispatch.Options{AddPrefix: true, Groups: part.Mapping}); err != nil {
		return err
	}

	for gi, members := range part.Groups {
		admin := []*endpoint.Endpoint{byName[part.Admins[gi]]}
		if err := run("set_role", admin,
			[]template.Token{
				template.Lit("set-role"),
				template.Dir(template.MappedCommunityName),
				template.Dir(template.MappedGroupName),
				template.Dir(template.OthersName),
				template.Lit("Mod"),
			},
			dispatch.Options{
				AddPrefix:      true,
				Groups:         part.Mapping,
				RosterOverride: members,
			}); err != nil {
			return err
		}
	}

	return run("final_sync", g.Endpoints,
		[]template.Token{template.Lit("--skip-history-msg-update"), template.Lit("sync")},
		dispatch.Options{AddPrefix: true})
}
