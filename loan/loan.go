// Package loan defines the valuation input entity and the invariants a
// loan must satisfy before it enters the kernel.
package loan

import (
	"math"

	"github.com/jiangshenghai57/loanvalkernel/valerr"
)

// NoScoreSentinel is the canonical credit-score value meaning "no score
// on file". It must not be treated as a low-quality score.
const NoScoreSentinel = 555

// DefaultDTI is substituted when a loan's debt-to-income ratio is absent.
const DefaultDTI = 36.0

// Loan is the immutable input entity consumed by one valuation call.
type Loan struct {
	ID                string   `json:"id"`
	UnpaidBalance     float64  `json:"unpaid_balance"`
	NoteRate          float64  `json:"note_rate"`
	OriginalTermMos   int      `json:"original_term_months"`
	RemainingTermMos  int      `json:"remaining_term_months"`
	AgeMos            int      `json:"age_months"`
	CreditScore       int      `json:"credit_score"`
	LTV               float64  `json:"ltv"`
	OriginationYear   *int     `json:"origination_year,omitempty"`
	DTI               *float64 `json:"dti,omitempty"`
	PropertyState     *string  `json:"property_state,omitempty"`
	ITIN              *bool    `json:"itin,omitempty"`
}

// HasScore reports whether the loan carries a real credit score.
func (l Loan) HasScore() bool {
	return l.CreditScore != NoScoreSentinel
}

// DTIOrDefault returns the loan's DTI, defaulting to DefaultDTI when absent.
func (l Loan) DTIOrDefault() float64 {
	if l.DTI == nil {
		return DefaultDTI
	}
	return *l.DTI
}

// ITINOrDefault returns the loan's ITIN flag, defaulting to false when absent.
func (l Loan) ITINOrDefault() bool {
	if l.ITIN == nil {
		return false
	}
	return *l.ITIN
}

// PropertyStateOrDefault returns the loan's two-letter state, defaulting
// to the empty string (mapped to the "other" state-group bucket by the
// leaf assigner) when absent.
func (l Loan) PropertyStateOrDefault() string {
	if l.PropertyState == nil {
		return ""
	}
	return *l.PropertyState
}

// Validate checks the structural invariants from the data model: a
// positive balance, a remaining term that does not exceed the
// original term, and rate/LTV/credit-score ranges wide enough to admit
// any real seasoned-loan population while still catching malformed
// input (NaN, negative, or nonsensical values). Failures are tagged
// InvalidInput with the offending field (spec §7): any loan failing
// this check fails the whole valuation fail-fast, per the package
// contract that every loan in scope gets priced.
func (l Loan) Validate() error {
	fail := func(field, reason string) error {
		return valerr.New(valerr.InvalidInput, reason).WithLoan(l.ID).WithField(field)
	}
	switch {
	case l.ID == "":
		return fail("id", "must not be empty")
	case math.IsNaN(l.UnpaidBalance) || l.UnpaidBalance <= 0:
		return fail("unpaid_balance", "must be a positive, finite amount")
	case math.IsNaN(l.NoteRate) || l.NoteRate < 0 || l.NoteRate > 0.30:
		return fail("note_rate", "must be a finite fraction in [0, 0.30]")
	case l.OriginalTermMos < 1:
		return fail("original_term_months", "must be >= 1")
	case l.RemainingTermMos < 1:
		return fail("remaining_term_months", "must be >= 1")
	case l.RemainingTermMos > l.OriginalTermMos:
		return fail("remaining_term_months", "must not exceed original_term_months")
	case l.AgeMos < 0:
		return fail("age_months", "must be >= 0")
	case l.CreditScore != NoScoreSentinel && (l.CreditScore < 300 || l.CreditScore > 850):
		return fail("credit_score", "must be in [300,850] or the no-score sentinel")
	case math.IsNaN(l.LTV) || l.LTV <= 0 || l.LTV > 2.0:
		return fail("ltv", "must be a finite fraction in (0, 2.0]")
	}
	return nil
}
