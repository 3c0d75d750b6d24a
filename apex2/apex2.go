// Package apex2 implements the legacy APEX2 prepayment multiplier: four
// independent dimensional lookup tables (credit, rate-delta, LTV, loan
// size) averaged to a single per-loan multiplier (spec §3, glossary).
package apex2

import (
	"fmt"
	"strconv"
	"strings"
)

// Band is one row of a lookup table: a half-open range [Min, Max) over
// the dimension's native units, or the unbounded "no_score" sentinel
// band used only by the credit table.
type Band struct {
	Label      string
	Min, Max   float64
	Unbounded  bool // true for the lt/gte extremes
	NoScore    bool
	Multiplier float64
}

func (b Band) contains(v float64) bool {
	if b.NoScore {
		return false
	}
	return v >= b.Min && v < b.Max
}

// Table is an ordered set of Bands covering one APEX2 dimension.
type Table []Band

// ParseTable builds a Table from the registry's band_label -> multiplier
// map. Labels follow the convention "lo-hi" (half-open range), "ltX"
// (below X), "gteX" (X and above), or "no_score" (credit table only).
// This label grammar is this kernel's own resolution of an
// underspecified artifact format (see DESIGN.md) since manifest.json's
// documented schema names only the multiplier, not the band boundary.
func ParseTable(raw map[string]float64) (Table, error) {
	t := make(Table, 0, len(raw))
	for label, mult := range raw {
		b, err := parseBandLabel(label)
		if err != nil {
			return nil, fmt.Errorf("apex2: band %q: %w", label, err)
		}
		b.Multiplier = mult
		t = append(t, b)
	}
	return t, nil
}

func parseBandLabel(label string) (Band, error) {
	if label == "no_score" {
		return Band{Label: label, NoScore: true}, nil
	}
	if strings.HasPrefix(label, "lt") {
		v, err := strconv.ParseFloat(strings.TrimPrefix(label, "lt"), 64)
		if err != nil {
			return Band{}, err
		}
		return Band{Label: label, Min: -1 << 60, Max: v, Unbounded: true}, nil
	}
	if strings.HasPrefix(label, "gte") {
		v, err := strconv.ParseFloat(strings.TrimPrefix(label, "gte"), 64)
		if err != nil {
			return Band{}, err
		}
		return Band{Label: label, Min: v, Max: 1 << 60, Unbounded: true}, nil
	}
	parts := strings.SplitN(label, "-", 2)
	if len(parts) != 2 {
		return Band{}, fmt.Errorf("unrecognized band label shape")
	}
	lo, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Band{}, err
	}
	hi, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Band{}, err
	}
	return Band{Label: label, Min: lo, Max: hi}, nil
}

// Lookup returns the multiplier of the band containing v, or the
// no_score band's multiplier when noScore is true. Returns 1.0 (a
// neutral multiplier) when no band matches, which should not occur for
// a correctly populated table but keeps the kernel total rather than
// panicking on an artifact gap.
func (t Table) Lookup(v float64, noScore bool) float64 {
	if noScore {
		for _, b := range t {
			if b.NoScore {
				return b.Multiplier
			}
		}
	}
	for _, b := range t {
		if b.contains(v) {
			return b.Multiplier
		}
	}
	return 1.0
}

// Tables is the full 4-dimensional APEX2 lookup set (spec §3).
type Tables struct {
	Credit    Table // 9 bands keyed by score range plus "no_score"
	RateDelta Table // 7 bands over note_rate - 10yr treasury, in percent
	LTV       Table // 5 bands, in percent
	LoanSize  Table // 8 bands, in dollars
}

// Multiplier is the arithmetic mean of the four table lookups for one
// loan at a point in time: creditScore/hasScore are loan-level and
// fixed, rateDeltaPct/ltvPct/loanSizeDollars may vary monthly when the
// treasury curve moves the rate-delta dimension (spec §4.4).
func (t Tables) Multiplier(creditScore int, hasScore bool, rateDeltaPct, ltvPct, loanSizeDollars float64) float64 {
	c := t.Credit.Lookup(float64(creditScore), !hasScore)
	r := t.RateDelta.Lookup(rateDeltaPct, false)
	l := t.LTV.Lookup(ltvPct, false)
	s := t.LoanSize.Lookup(loanSizeDollars, false)
	return (c + r + l + s) / 4.0
}
