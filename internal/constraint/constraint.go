// Package constraint implements the configurable pipeline of constraint
// predicates per role described in spec §4.2 and §9: a tagged sum of
// constraint kinds with a common Check capability, rather than a subclass
// hierarchy. Each role's constraint list is built once at config load time
// from the DESIGN.md-grounded kinds below and is immutable thereafter.
package constraint

import (
	"fmt"

	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// Result is the outcome of a single constraint check.
type Result struct {
	OK      bool
	Code    common.RejectCode
	Message string
}

func ok() Result { return Result{OK: true} }

func fail(code common.RejectCode, format string, args ...any) Result {
	return Result{OK: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Context supplies everything a constraint needs to evaluate an order
// without reaching back into pipeline internals (spec §4.2).
type Context struct {
	// Position returns the team's current signed net position for a symbol.
	Position func(teamID, symbol string) int64
	// PortfolioAbs returns sum(|position|) across all instruments for a team.
	PortfolioAbs func(teamID string) int64
	// OrderCountInWindow returns how many orders the team has submitted in
	// the rolling rate-limit window (see RateWindow in internal/validator).
	OrderCountInWindow func(teamID string) int
	// Mid returns the current mid price for a symbol, if known.
	Mid func(symbol string) (decimal.Decimal, bool)
	// Instrument looks up instrument metadata by symbol.
	Instrument func(symbol string) (common.Instrument, bool)
	// Phase is the current phase state (for constraints that care about
	// execution style beyond the blanket submit_allowed gate).
	Phase common.PhaseState
}

// Constraint is one predicate in a role's ordered check list.
type Constraint interface {
	Check(order *common.Order, ctx Context) Result
}

// Chain runs constraints in declared order; the first failure
// short-circuits (spec §4.2).
type Chain []Constraint

func (c Chain) Check(order *common.Order, ctx Context) Result {
	for _, constraint := range c {
		if r := constraint.Check(order, ctx); !r.OK {
			return r
		}
	}
	return ok()
}
