package sequence

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Kind identifies which document family a counter numbers.
type Kind string

const (
	KindRequisition   Kind = "REQUISITION"
	KindPurchaseOrder Kind = "PURCHASE_ORDER"
)

// ParseKind accepts the canonical name or the short URL forms.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "requisition", "requisitions", "req":
		return KindRequisition, nil
	case "purchase_order", "purchase-order", "purchase-orders", "po", "pos":
		return KindPurchaseOrder, nil
	}
	return "", shared.NewValidationError("kind", "unknown_kind", fmt.Sprintf("unknown sequence kind %q", raw))
}

// Config controls how a counter value is rendered.
type Config struct {
	Prefix       string `json:"prefix"`
	NumberLength int    `json:"numberLength"`
	IncludeYear  bool   `json:"includeYear"`
	IncludeMonth bool   `json:"includeMonth"`
	// CompactDate renders year and month as one YYYYMM component.
	CompactDate bool   `json:"compactDate"`
	Separator   string `json:"separator"`
	Suffix      string `json:"suffix"`
	// ResetMonthly scopes the counter to the calendar month.
	ResetMonthly bool `json:"resetMonthly"`
}

// Counter is the per tenant, kind and period counter document.
type Counter struct {
	TenantID       string
	Kind           Kind
	Period         string
	Config         Config
	CurrentCounter int64
	UpdatedAt      time.Time
}

var (
	// ErrSequenceContended is returned once the bounded retries are spent.
	ErrSequenceContended = fmt.Errorf("sequence: counter exhausted or contended: %w", shared.ErrConflict)
	// ErrNotFound indicates a missing counter document.
	ErrNotFound = fmt.Errorf("sequence: counter %w", shared.ErrNotFound)
)

// DefaultConfig returns the configuration a counter is created with.
func DefaultConfig(kind Kind) Config {
	switch kind {
	case KindRequisition:
		return Config{Prefix: "REQ", NumberLength: 4, IncludeYear: true, IncludeMonth: true, CompactDate: true, Separator: "-", ResetMonthly: true}
	default:
		return Config{Prefix: "PO", NumberLength: 4, IncludeYear: true, Separator: "-"}
	}
}

// Validate checks a configuration before it is stored.
func (c Config) Validate() error {
	var errs shared.ValidationErrors
	if c.NumberLength < 1 || c.NumberLength > 12 {
		errs = append(errs, shared.NewValidationError("numberLength", "out_of_range", "must be between 1 and 12"))
	}
	if len(c.Prefix) > 16 {
		errs = append(errs, shared.NewValidationError("prefix", "too_long", "must be at most 16 characters"))
	}
	if len(c.Suffix) > 16 {
		errs = append(errs, shared.NewValidationError("suffix", "too_long", "must be at most 16 characters"))
	}
	if len(c.Separator) > 3 {
		errs = append(errs, shared.NewValidationError("separator", "too_long", "must be at most 3 characters"))
	}
	if c.ResetMonthly && !c.IncludeMonth {
		errs = append(errs, shared.NewValidationError("includeMonth", "required", "monthly counters must render the month"))
	}
	return errs.Err()
}

// PeriodKey returns the counter scope for the instant. Counters that never
// reset share the empty period.
func PeriodKey(cfg Config, at time.Time) string {
	if !cfg.ResetMonthly {
		return ""
	}
	return at.Format("200601")
}

// Format renders value using cfg at the given instant. Components are joined
// in order: prefix, year, month, counter, suffix. Empty components are dropped
// together with their separator.
func Format(cfg Config, value int64, at time.Time) string {
	parts := make([]string, 0, 5)
	if cfg.Prefix != "" {
		parts = append(parts, cfg.Prefix)
	}
	switch {
	case cfg.CompactDate && cfg.IncludeYear && cfg.IncludeMonth:
		parts = append(parts, fmt.Sprintf("%04d%02d", at.Year(), int(at.Month())))
	default:
		if cfg.IncludeYear {
			parts = append(parts, fmt.Sprintf("%04d", at.Year()))
		}
		if cfg.IncludeMonth {
			parts = append(parts, fmt.Sprintf("%02d", int(at.Month())))
		}
	}
	width := cfg.NumberLength
	if width < 1 {
		width = 1
	}
	parts = append(parts, fmt.Sprintf("%0*d", width, value))
	if cfg.Suffix != "" {
		parts = append(parts, cfg.Suffix)
	}
	return strings.Join(parts, cfg.Separator)
}
