// Package template expands one parameterized command description into the
// concrete per-endpoint argument vectors the dispatcher executes. A template
// is an ordered token sequence; directive tokens multiply the accumulated
// command list based on the endpoint roster or a community/group mapping.
package template

import (
	"fmt"
	"strconv"
	"strings"
)

// Directive is a placeholder token that expands to one or more concrete
// values based on the expansion context. The set is closed: anything else
// is an expansion error.
type Directive int

const (
	// SelfName expands to the endpoint's own name. Cardinality unchanged.
	SelfName Directive = iota
	// OthersName expands once per roster member other than the endpoint.
	OthersName
	// AllNames expands once per roster member, in roster order.
	AllNames
	// OthersNamesJoined expands to a single comma-joined string of all
	// roster members other than the endpoint.
	OthersNamesJoined
	// GovernanceSequence expands the command into the invite, add and
	// update-group-state variants.
	GovernanceSequence
	// MappedCommunityName expands once per community mapped to the endpoint.
	MappedCommunityName
	// MappedGroupName expands once per group mapped to the endpoint.
	MappedGroupName
)

func (d Directive) String() string {
	switch d {
	case SelfName:
		return "SelfName"
	case OthersName:
		return "OthersName"
	case AllNames:
		return "AllNames"
	case OthersNamesJoined:
		return "OthersNamesJoined"
	case GovernanceSequence:
		return "GovernanceSequence"
	case MappedCommunityName:
		return "MappedCommunityName"
	case MappedGroupName:
		return "MappedGroupName"
	}
	return fmt.Sprintf("Directive(%d)", int(d))
}

// governance verbs, in execution order; the last one takes no addressee.
var governanceVerbs = [3]string{"invite", "add", "update-group-state"}

// UpdateStateVerb is the final governance verb. The update-state command
// addresses the whole group, so expansion strips its trailing name token.
const UpdateStateVerb = "update-group-state"

type tokenKind int

const (
	kindLit tokenKind = iota
	kindDir
)

// Token is one element of a command template: a literal or a Directive.
type Token struct {
	kind tokenKind
	lit  string
	dir  Directive
}

// Lit returns a literal string token.
func Lit(s string) Token { return Token{kind: kindLit, lit: s} }

// Num returns a numeric literal token rendered as a string.
func Num(v float64) Token {
	return Token{kind: kindLit, lit: strconv.FormatFloat(v, 'f', -1, 64)}
}

// Dir returns a directive token.
func Dir(d Directive) Token { return Token{kind: kindDir, dir: d} }

// Lits converts a plain argument vector into a literal-only template.
func Lits(args ...string) []Token {
	tmpl := make([]Token, len(args))
	for i, a := range args {
		tmpl[i] = Lit(a)
	}
	return tmpl
}

func (t Token) String() string {
	if t.kind == kindDir {
		return t.dir.String()
	}
	return strconv.Quote(t.lit)
}

// CommGroup is one (community, group) pair mapped to an endpoint.
type CommGroup struct {
	Community string
	Group     string
}

// Context carries the roster and optional group mapping a template is
// expanded against. Both are read-only during expansion.
type Context struct {
	Roster []string
	Groups map[string][]CommGroup
}

// Expand turns tmpl into the ordered list of concrete commands for the named
// endpoint. When prefix is non-nil every command starts with it, and the
// post-processing rules for sync flags and the update-state addressee apply.
//
// Multiplying directives grow the accumulator outer-loop-over-values,
// inner-loop-over-existing-commands: with N accumulated commands and
// expansion values L, the result at position i*N+j is command j with L[i]
// appended. Callers compare expansions verbatim, so this order is fixed.
func Expand(endpoint string, tmpl []Token, prefix []string, ctx Context) ([][]string, error) {
	cmds := make([][]string, 1)
	if prefix != nil {
		cmds[0] = append([]string(nil), prefix...)
	}

	governed := false
	for _, tok := range tmpl {
		if tok.kind == kindLit {
			for i := range cmds {
				cmds[i] = append(cmds[i], tok.lit)
			}
			continue
		}
		if tok.dir == SelfName {
			for i := range cmds {
				cmds[i] = append(cmds[i], endpoint)
			}
			continue
		}

		var vals []string
		switch tok.dir {
		case AllNames:
			vals = append(vals, ctx.Roster...)
		case OthersName:
			others, err := withoutSelf(ctx.Roster, endpoint)
			if err != nil {
				return nil, err
			}
			if len(others) == 0 {
				return nil, fmt.Errorf("template: %s for %q on a roster of one", tok.dir, endpoint)
			}
			vals = others
		case OthersNamesJoined:
			others, err := withoutSelf(ctx.Roster, endpoint)
			if err != nil {
				return nil, err
			}
			vals = []string{strings.Join(others, ",")}
		case GovernanceSequence:
			governed = true
			vals = governanceVerbs[:]
		case MappedCommunityName, MappedGroupName:
			pairs, ok := ctx.Groups[endpoint]
			if !ok {
				return nil, fmt.Errorf("template: %s: no group mapping for endpoint %q", tok.dir, endpoint)
			}
			for _, p := range pairs {
				if tok.dir == MappedCommunityName {
					vals = append(vals, p.Community)
				} else {
					vals = append(vals, p.Group)
				}
			}
		default:
			return nil, fmt.Errorf("template: unknown directive %d", int(tok.dir))
		}

		n := len(cmds)
		next := make([][]string, 0, n*len(vals))
		for _, v := range vals {
			for j := 0; j < n; j++ {
				cmd := make([]string, len(cmds[j]), len(cmds[j])+1)
				copy(cmd, cmds[j])
				next = append(next, append(cmd, v))
			}
		}
		cmds = next
	}

	if prefix != nil {
		for i := range cmds {
			// A sync command is incompatible with the no-sync modifiers the
			// prefix may carry.
			if containsToken(cmds[i][len(prefix):], "sync") {
				cmds[i] = dropTokens(cmds[i], "-n", "--no-sync")
			}
			// update-group-state takes no addressee, unlike invite/add.
			if governed && containsToken(cmds[i][len(prefix):], UpdateStateVerb) {
				cmds[i] = cmds[i][:len(cmds[i])-1]
			}
		}
	}
	return cmds, nil
}

// withoutSelf returns roster minus the named endpoint, erroring when the
// endpoint is not a member.
func withoutSelf(roster []string, endpoint string) ([]string, error) {
	found := false
	others := make([]string, 0, len(roster))
	for _, name := range roster {
		if name == endpoint && !found {
			found = true
			continue
		}
		others = append(others, name)
	}
	if !found {
		return nil, fmt.Errorf("template: endpoint %q not in roster %v", endpoint, roster)
	}
	return others, nil
}

func containsToken(args []string, tok string) bool {
	for _, a := range args {
		if a == tok {
			return true
		}
	}
	return false
}

// dropTokens removes the first occurrence of each listed token.
func dropTokens(args []string, drop ...string) []string {
	for _, d := range drop {
		for i, a := range args {
			if a == d {
				args = append(args[:i], args[i+1:]...)
				break
			}
		}
	}
	return args
}
