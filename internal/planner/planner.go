// Package planner turns the tables written during a test into an ordered
// reset plan over the dependency graph.
package planner

import (
	"fmt"

	"github.com/mesh-intelligence/baseline/internal/dialect"
	"github.com/mesh-intelligence/baseline/internal/schema"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// Strategy says how foreign-key checks are handled for one step.
type Strategy int

const (
	// StrategyOrdered relies on statement order alone.
	StrategyOrdered Strategy = iota
	// StrategyDeferred postpones checks to commit.
	StrategyDeferred
	// StrategyDisabled turns checks off around the step's statements.
	StrategyDisabled
)

func (s Strategy) String() string {
	switch s {
	case StrategyDeferred:
		return "deferred"
	case StrategyDisabled:
		return "disabled"
	}
	return "ordered"
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Step is one reset unit of a plan.
type Step struct {
	Tables   []types.TableName `json:"tables"`
	Cyclic   bool              `json:"cyclic"`
	Strategy Strategy          `json:"strategy"`
}

// Plan is an ordered reset. Steps are in restore order, parents first.
type Plan struct {
	Steps []Step `json:"steps"`

	// Seeds are the written tables that caused the reset.
	Seeds []types.TableName `json:"seeds"`
	// Ignored are written tables the graph does not know.
	Ignored []types.TableName `json:"ignored,omitempty"`
}

// Len returns the number of tables the plan resets.
func (p *Plan) Len() int {
	n := 0
	for _, s := range p.Steps {
		n += len(s.Tables)
	}
	return n
}

// Empty reports whether the plan resets nothing.
func (p *Plan) Empty() bool {
	return len(p.Steps) == 0
}

// RestoreOrder lists tables parents first.
func (p *Plan) RestoreOrder() []types.TableName {
	out := make([]types.TableName, 0, p.Len())
	for _, s := range p.Steps {
		out = append(out, s.Tables...)
	}
	return out
}

// DeleteOrder lists tables children first. Members of a cyclic step keep
// ascending name order.
func (p *Plan) DeleteOrder() []types.TableName {
	out := make([]types.TableName, 0, p.Len())
	for i := len(p.Steps) - 1; i >= 0; i-- {
		out = append(out, p.Steps[i].Tables...)
	}
	return out
}

// NeedsDeferral reports whether any step relies on deferred checking.
func (p *Plan) NeedsDeferral() bool {
	for _, s := range p.Steps {
		if s.Strategy == StrategyDeferred {
			return true
		}
	}
	return false
}

// Planner computes plans for one dialect.
type Planner struct {
	caps         dialect.Capabilities
	allowDisable bool
}

// Option configures a Planner.
type Option func(*Planner)

// AllowDisableConstraints controls whether the planner may switch checks
// off for a cycle that cannot be deferred. It may by default.
func AllowDisableConstraints(allow bool) Option {
	return func(p *Planner) { p.allowDisable = allow }
}

// New returns a Planner for a database with the given capabilities.
func New(caps dialect.Capabilities, opts ...Option) *Planner {
	p := &Planner{caps: caps, allowDisable: true}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan computes the reset for the written tables in access. Every table that
// references a reset table is reset too, transitively, because clearing a
// parent requires clearing the rows that point at it. A cyclic unit is reset
// whole. An unresolvable cycle fails with *types.CycleResolutionError.
func (p *Planner) Plan(access types.AccessSet, g *schema.Graph) (*Plan, error) {
	plan := &Plan{}
	selected := make(map[types.TableName]bool)
	var queue []types.TableName

	for _, t := range access.Tables() {
		name, ok := g.Resolve(t)
		if !ok {
			plan.Ignored = append(plan.Ignored, t)
			continue
		}
		plan.Seeds = append(plan.Seeds, name)
		if !selected[name] {
			selected[name] = true
			queue = append(queue, name)
		}
	}

	units := g.Units()
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]

		next := g.Children(t)
		if i, ok := g.UnitIndex(t); ok {
			next = append(next, units[i].Tables...)
		}
		for _, n := range next {
			if !selected[n] {
				selected[n] = true
				queue = append(queue, n)
			}
		}
	}

	for _, u := range units {
		if !selected[u.Tables[0]] {
			continue
		}
		step := Step{Tables: u.Tables, Cyclic: u.Cyclic}
		if u.Cyclic {
			s, err := p.cycleStrategy(u)
			if err != nil {
				return nil, err
			}
			step.Strategy = s
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// CheckCycles reports the first cyclic unit of g that this planner could
// not reset.
func (p *Planner) CheckCycles(g *schema.Graph) error {
	for _, u := range g.Units() {
		if !u.Cyclic {
			continue
		}
		if _, err := p.cycleStrategy(u); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) cycleStrategy(u schema.Unit) (Strategy, error) {
	switch p.caps.Defer {
	case dialect.DeferAlways:
		return StrategyDeferred, nil
	case dialect.DeferDeclared:
		if allDeferrable(u.Edges) {
			return StrategyDeferred, nil
		}
	}
	if p.caps.CanDisable && p.allowDisable {
		return StrategyDisabled, nil
	}

	reason := "foreign keys in the cycle cannot be deferred"
	if p.caps.CanDisable {
		reason += " and disabling constraint checks is not allowed"
	} else {
		reason += " and the database cannot disable constraint checks"
	}
	return StrategyOrdered, &types.CycleResolutionError{
		Tables: append([]types.TableName(nil), u.Tables...),
		Reason: reason,
	}
}

func allDeferrable(edges []types.ForeignKeyEdge) bool {
	for _, e := range edges {
		if !e.Deferrable {
			return false
		}
	}
	return true
}

// String renders the plan on one line for logs.
func (p *Plan) String() string {
	return fmt.Sprintf("delete %v, restore %v", p.DeleteOrder(), p.RestoreOrder())
}
