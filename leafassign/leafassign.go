// Package leafassign maps a loan to a segmentation leaf id through a
// three-tier fallback: decision tree, then a rules table, then a
// hard-coded 5-bucket classifier (spec §4.2).
package leafassign

import (
	"log/slog"

	"github.com/jiangshenghai57/loanvalkernel/loan"
)

// Features is the scale-converted feature vector the tree and rules
// table operate on (spec §4.2: rate x100, LTV x100, ITIN defaulted to
// 0, state mapped through a pre-binned group table). DTI is not part
// of the vector; FeaturesFor only logs when it is absent.
type Features struct {
	CreditScore     int
	HasScore        bool
	LTVPercent      float64
	RatePercent     float64
	LoanSize        float64
	OriginationYear int
	StateGroup      string
	ITIN            int
	OriginalAmort   int
}

// StateGroups maps two-letter property states to a pre-binned group
// label. Unlisted/absent states fall into "other".
var StateGroups = map[string]string{
	"CA": "west_high_cost", "WA": "west_high_cost", "OR": "west_high_cost",
	"NY": "northeast_high_cost", "NJ": "northeast_high_cost", "MA": "northeast_high_cost", "CT": "northeast_high_cost",
	"TX": "south", "FL": "south", "GA": "south", "NC": "south",
	"IL": "midwest", "OH": "midwest", "MI": "midwest", "IN": "midwest",
}

func stateGroup(state string) string {
	if g, ok := StateGroups[state]; ok {
		return g
	}
	return "other"
}

// FeaturesFor derives the tree/rules feature vector from a loan,
// logging (at warn severity) any missing-field imputation per spec
// §4.2's fallback-logging contract.
func FeaturesFor(l loan.Loan, log *slog.Logger) Features {
	originationYear := 0
	if l.OriginationYear != nil {
		originationYear = *l.OriginationYear
	}
	if l.DTI == nil && log != nil {
		log.Warn("leaf assignment: DTI missing, imputing default", "loan_id", l.ID, "default_dti", loan.DefaultDTI)
	}
	if l.ITIN == nil && log != nil {
		log.Warn("leaf assignment: ITIN flag missing, imputing false", "loan_id", l.ID)
	}
	itin := 0
	if l.ITINOrDefault() {
		itin = 1
	}
	return Features{
		CreditScore:     l.CreditScore,
		HasScore:        l.HasScore(),
		LTVPercent:      l.LTV * 100,
		RatePercent:     l.NoteRate * 100,
		LoanSize:        l.UnpaidBalance,
		OriginationYear: originationYear,
		StateGroup:      stateGroup(l.PropertyStateOrDefault()),
		ITIN:            itin,
		OriginalAmort:   l.OriginalTermMos,
	}
}

// Op is a comparison operator used by a rules-table predicate.
type Op string

const (
	OpLT  Op = "<"
	OpLE  Op = "<="
	OpGT  Op = ">"
	OpGE  Op = ">="
	OpEQ  Op = "=="
	OpNE  Op = "!="
)

// Condition is a single (feature, operator, value) predicate.
type Condition struct {
	Feature string  `json:"feature"`
	Op      Op      `json:"op"`
	Value   float64 `json:"value"`
}

// Rule is a conjunction of Conditions; the first matching Rule wins.
type Rule struct {
	Conditions []Condition `json:"conditions"`
	LeafID     int         `json:"leaf_id"`
}

func featureValue(f Features, name string) (float64, bool) {
	switch name {
	case "credit_score":
		return float64(f.CreditScore), true
	case "ltv_percent":
		return f.LTVPercent, true
	case "rate_percent":
		return f.RatePercent, true
	case "loan_size":
		return f.LoanSize, true
	case "origination_year":
		return float64(f.OriginationYear), true
	case "itin":
		return float64(f.ITIN), true
	case "original_amort":
		return float64(f.OriginalAmort), true
	default:
		return 0, false
	}
}

func evalCondition(c Condition, f Features) bool {
	v, ok := featureValue(f, c.Feature)
	if !ok {
		return false
	}
	switch c.Op {
	case OpLT:
		return v < c.Value
	case OpLE:
		return v <= c.Value
	case OpGT:
		return v > c.Value
	case OpGE:
		return v >= c.Value
	case OpEQ:
		return v == c.Value
	case OpNE:
		return v != c.Value
	default:
		return false
	}
}

func evalRule(r Rule, f Features) bool {
	for _, c := range r.Conditions {
		if !evalCondition(c, f) {
			return false
		}
	}
	return true
}

// Split is one decision-tree node.
type Split struct {
	Feature   string `json:"feature"`
	Threshold float64 `json:"threshold"`
	LeafID    int    `json:"leaf_id"`    // valid only when IsLeaf
	IsLeaf    bool   `json:"is_leaf"`
	Left      *Split `json:"left,omitempty"`
	Right     *Split `json:"right,omitempty"`
}

// Tree is the segmentation decision tree (spec §3).
type Tree struct {
	Root *Split `json:"root"`
}

// apply traverses the tree; returns (leafID, true) on success.
func (t *Tree) apply(f Features) (int, bool) {
	if t == nil || t.Root == nil {
		return 0, false
	}
	node := t.Root
	for {
		if node.IsLeaf {
			return node.LeafID, true
		}
		v, ok := featureValue(f, node.Feature)
		if !ok {
			return 0, false
		}
		if v < node.Threshold {
			if node.Left == nil {
				return 0, false
			}
			node = node.Left
		} else {
			if node.Right == nil {
				return 0, false
			}
			node = node.Right
		}
	}
}

// Result reports which tier produced the assignment, for the result
// manifest's ModelFallback accounting (spec §7).
type Result struct {
	LeafID int
	Tier   string // "tree", "rules", or "hard_coded"
}

// Assign maps a loan to a leaf id, trying the decision tree, then the
// rules table, then the hard-coded classifier, in that order. Assign
// is a total function: it always returns a valid leaf id (spec §4.2).
func Assign(tree *Tree, rules []Rule, l loan.Loan, log *slog.Logger) Result {
	f := FeaturesFor(l, log)

	if leaf, ok := tree.apply(f); ok {
		return Result{LeafID: leaf, Tier: "tree"}
	}
	if log != nil {
		log.Warn("leaf assignment: falling back from decision tree", "loan_id", l.ID)
	}

	for _, r := range rules {
		if evalRule(r, f) {
			return Result{LeafID: r.LeafID, Tier: "rules"}
		}
	}
	if len(rules) > 0 && log != nil {
		log.Warn("leaf assignment: falling back from rules table", "loan_id", l.ID)
	}

	return Result{LeafID: hardCodedBucket(f), Tier: "hard_coded"}
}

// hardCodedBucket is the final-tier 5-bucket classifier on credit
// score x LTV (spec §4.2).
func hardCodedBucket(f Features) int {
	switch {
	case !f.HasScore:
		return 5
	case f.CreditScore >= 740 && f.LTVPercent <= 80:
		return 1
	case f.CreditScore >= 680 && f.LTVPercent <= 90:
		return 2
	case f.CreditScore >= 620:
		return 3
	default:
		return 4
	}
}
