package approval

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Level is one value-gated step of the approval chain.
type Level struct {
	Level            int             `json:"level"`
	Name             string          `json:"name"`
	MinApprovalLimit decimal.Decimal `json:"minApprovalLimit"`
	ApproverRoles    []shared.Role   `json:"approverRoles"`
}

// Policy is the tenant's approval configuration.
type Policy struct {
	Levels     []Level                         `json:"levels"`
	RoleLimits map[shared.Role]decimal.Decimal `json:"roleLimits"`
	UpdatedBy  string                          `json:"updatedBy,omitempty"`
	UpdatedAt  time.Time                       `json:"updatedAt,omitempty"`
}

// DefaultPolicy is used until a tenant stores its own.
func DefaultPolicy() Policy {
	return Policy{
		Levels: []Level{
			{Level: 1, Name: "Department head", MinApprovalLimit: decimal.Zero, ApproverRoles: []shared.Role{shared.RoleDepartmentHead}},
			{Level: 2, Name: "Finance", MinApprovalLimit: decimal.NewFromInt(1_000), ApproverRoles: []shared.Role{shared.RoleFinanceManager}},
			{Level: 3, Name: "Director", MinApprovalLimit: decimal.NewFromInt(10_000), ApproverRoles: []shared.Role{shared.RoleDirector}},
		},
		RoleLimits: map[shared.Role]decimal.Decimal{
			shared.RoleDepartmentHead: decimal.NewFromInt(10_000),
			shared.RoleFinanceManager: decimal.NewFromInt(100_000),
			shared.RoleDirector:       decimal.NewFromInt(5_000_000),
			shared.RoleAdmin:          decimal.NewFromInt(1_000_000_000),
		},
	}
}

// Normalize orders levels by threshold and renumbers them from 1.
func (p Policy) Normalize() Policy {
	levels := append([]Level(nil), p.Levels...)
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].MinApprovalLimit.LessThan(levels[j].MinApprovalLimit)
	})
	for i := range levels {
		levels[i].Level = i + 1
	}
	p.Levels = levels
	return p
}

// Validate checks a policy before it is stored.
func (p Policy) Validate() error {
	var errs shared.ValidationErrors
	if len(p.Levels) == 0 {
		errs = append(errs, shared.NewValidationError("levels", "required", "at least one approval level is required"))
	}
	for i, l := range p.Levels {
		field := fmt.Sprintf("levels[%d]", i)
		if l.MinApprovalLimit.IsNegative() {
			errs = append(errs, shared.NewValidationError(field+".minApprovalLimit", "negative", "threshold must not be negative"))
		}
		if len(l.ApproverRoles) == 0 {
			errs = append(errs, shared.NewValidationError(field+".approverRoles", "required", "at least one approver role is required"))
		}
	}
	if len(p.Levels) > 0 && !p.Normalize().Levels[0].MinApprovalLimit.IsZero() {
		errs = append(errs, shared.NewValidationError("levels", "no_base_level", "the lowest level must start at zero"))
	}
	for role, limit := range p.RoleLimits {
		if limit.IsNegative() {
			errs = append(errs, shared.NewValidationError("roleLimits."+string(role), "negative", "limit must not be negative"))
		}
	}
	return errs.Err()
}

// RequiredLevels returns the ordered levels whose threshold is at or below
// total.
func (p Policy) RequiredLevels(total decimal.Decimal) []Level {
	var out []Level
	for _, l := range p.Normalize().Levels {
		if l.MinApprovalLimit.LessThanOrEqual(total) {
			out = append(out, l)
		}
	}
	return out
}

// LimitFor returns the maximum value role may approve. Roles without an
// entry may not approve anything.
func (p Policy) LimitFor(role shared.Role) decimal.Decimal {
	if limit, ok := p.RoleLimits[role]; ok {
		return limit
	}
	return decimal.Zero
}

// levelAt returns the required level for a one-based step, clamped to the
// last required level.
func levelAt(levels []Level, step int) (Level, bool) {
	if len(levels) == 0 {
		return Level{}, false
	}
	if step < 1 {
		step = 1
	}
	if step > len(levels) {
		step = len(levels)
	}
	return levels[step-1], true
}
