// Package registry loads and exposes immutable model artifacts: the
// segmentation tree, the per-leaf survival curves, the APEX2 tables,
// and the scenario catalogue (spec §4.1). It is the only component
// that performs I/O outside the host's transport layer (spec §5).
package registry

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/jiangshenghai57/loanvalkernel/apex2"
	"github.com/jiangshenghai57/loanvalkernel/leafassign"
	"github.com/jiangshenghai57/loanvalkernel/valerr"
	"github.com/jiangshenghai57/loanvalkernel/valtypes"
)

// SurvivalCurve holds 360 monthly survival probabilities for one leaf,
// S[0]=1.0, non-increasing (spec §3).
type SurvivalCurve []float64

// Hazard returns the discrete hazard at month t: h[t] = 1 - S[t]/S[t-1].
// t must be in [1, len(S)-1]; callers past the curve's horizon should
// hold the last hazard flat (documented at the call site).
func (s SurvivalCurve) Hazard(t int) float64 {
	if t < 1 || t >= len(s) || s[t-1] == 0 {
		return 0
	}
	return 1 - s[t]/s[t-1]
}

// manifestFile mirrors manifest.json (spec §6).
type manifestFile struct {
	Models        map[string]modelEntryFile `json:"models"`
	CurveVariants map[string]string         `json:"curve_variants"`
	DefaultCurve  string                    `json:"default_curve_variant"`
}

type modelEntryFile struct {
	Status  string             `json:"status"`
	Version string             `json:"version"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Registry is an immutable, process-lifetime handle to every loaded
// model artifact. It must never be mutated after Load returns; reloads
// build a new Registry and swap the handle atomically (spec §4.1, §5,
// §9).
type Registry struct {
	manifest      manifestFile
	curveVariant  string
	survivalByLeaf map[int]SurvivalCurve
	tree          *leafassign.Tree
	rules         []leafassign.Rule
	apex2Tables   apex2.Tables
	scenarios     map[string]valtypes.Scenario
}

// Handle is an atomically-swappable reference to the current Registry,
// matching spec §9's "no process-wide mutable state" design note: the
// value is immutable, only the pointer is ever replaced.
type Handle struct {
	ptr atomic.Pointer[Registry]
}

// Store atomically publishes a newly loaded Registry.
func (h *Handle) Store(r *Registry) { h.ptr.Store(r) }

// Load returns the currently published Registry. In-flight valuations
// should capture this once at the start of a call and use that
// reference throughout, so a concurrent reload never changes the
// artifacts underneath a running valuation.
func (h *Handle) Load() *Registry { return h.ptr.Load() }

// Load reads the manifest and every artifact it references from
// artifactRoot, resolving curveVariant (or the manifest's default when
// curveVariant is empty).
func Load(artifactRoot string, curveVariant string) (*Registry, error) {
	mf, err := loadManifest(artifactRoot)
	if err != nil {
		return nil, err
	}

	variant := curveVariant
	if variant == "" {
		variant = mf.DefaultCurve
	}
	curvePath, ok := mf.CurveVariants[variant]
	if !ok {
		return nil, valerr.New(valerr.VariantNotFound, fmt.Sprintf("curve variant %q is not registered", variant))
	}

	curves, err := loadSurvivalCurves(filepath.Join(artifactRoot, curvePath))
	if err != nil {
		return nil, err
	}

	tree, err := loadTree(filepath.Join(artifactRoot, "segmentation", "tree_structure.json"))
	if err != nil {
		return nil, err
	}

	rules, err := loadRules(filepath.Join(artifactRoot, "segmentation", "rules.json"))
	if err != nil {
		return nil, err
	}

	tables, err := loadAPEX2(artifactRoot)
	if err != nil {
		return nil, err
	}

	scenarios, err := loadScenarios(filepath.Join(artifactRoot, "scenarios", "scenarios.json"))
	if err != nil {
		return nil, err
	}

	return &Registry{
		manifest:       mf,
		curveVariant:   variant,
		survivalByLeaf: curves,
		tree:           tree,
		rules:          rules,
		apex2Tables:    tables,
		scenarios:      scenarios,
	}, nil
}

func loadManifest(root string) (manifestFile, error) {
	path := filepath.Join(root, "manifest.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return manifestFile{}, valerr.New(valerr.MissingArtifact, "manifest.json: "+err.Error())
	}
	var mf manifestFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return manifestFile{}, valerr.New(valerr.BadFormat, "manifest.json: "+err.Error())
	}
	return mf, nil
}

// loadSurvivalCurves reads a CSV rendering of the
// {leaf_id, month, survival_prob} columns (spec §6 documents a parquet
// layout; no parquet library is available anywhere in the retrieved
// example pack, so this kernel accepts the CSV equivalent the spec
// explicitly allows, and expects the host to have converted any
// parquet source upstream of artifactRoot — see DESIGN.md).
func loadSurvivalCurves(path string) (map[int]SurvivalCurve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, valerr.New(valerr.MissingArtifact, "survival curve: "+err.Error())
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, valerr.New(valerr.BadFormat, "survival curve: "+err.Error())
	}
	if len(rows) == 0 {
		return nil, valerr.New(valerr.BadFormat, "survival curve: empty file")
	}

	out := map[int]SurvivalCurve{}
	start := 0
	if _, err := strconv.Atoi(rows[0][0]); err != nil {
		start = 1 // header row
	}
	for _, row := range rows[start:] {
		if len(row) < 3 {
			continue
		}
		leafID, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, valerr.New(valerr.BadFormat, "survival curve: bad leaf_id "+row[0])
		}
		month, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, valerr.New(valerr.BadFormat, "survival curve: bad month "+row[1])
		}
		prob, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, valerr.New(valerr.BadFormat, "survival curve: bad survival_prob "+row[2])
		}
		curve, ok := out[leafID]
		if !ok {
			curve = make(SurvivalCurve, 361)
			curve[0] = 1.0
		}
		if month >= 0 && month < len(curve) {
			curve[month] = prob
		}
		out[leafID] = curve
	}
	return out, nil
}

func loadTree(path string) (*leafassign.Tree, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil // tier 1 unavailable; assigner falls back to tier 2/3
	}
	if err != nil {
		return nil, valerr.New(valerr.MissingArtifact, "tree_structure.json: "+err.Error())
	}
	var tree leafassign.Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, valerr.New(valerr.BadFormat, "tree_structure.json: "+err.Error())
	}
	return &tree, nil
}

func loadRules(path string) ([]leafassign.Rule, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil // tier 2 unavailable; assigner falls back to tier 3
	}
	if err != nil {
		return nil, valerr.New(valerr.MissingArtifact, "rules.json: "+err.Error())
	}
	var rules []leafassign.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, valerr.New(valerr.BadFormat, "rules.json: "+err.Error())
	}
	return rules, nil
}

func loadAPEX2(root string) (apex2.Tables, error) {
	load := func(name string) (apex2.Table, error) {
		data, err := os.ReadFile(filepath.Join(root, "apex2", name))
		if err != nil {
			return nil, valerr.New(valerr.MissingArtifact, "apex2/"+name+": "+err.Error())
		}
		var raw map[string]float64
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, valerr.New(valerr.BadFormat, "apex2/"+name+": "+err.Error())
		}
		t, err := apex2.ParseTable(raw)
		if err != nil {
			return nil, valerr.New(valerr.BadFormat, "apex2/"+name+": "+err.Error())
		}
		return t, nil
	}

	credit, err := load("credit_rates.json")
	if err != nil {
		return apex2.Tables{}, err
	}
	rate, err := load("rate_delta_rates.json")
	if err != nil {
		return apex2.Tables{}, err
	}
	ltv, err := load("ltv_rates.json")
	if err != nil {
		return apex2.Tables{}, err
	}
	size, err := load("loan_size_rates.json")
	if err != nil {
		return apex2.Tables{}, err
	}
	return apex2.Tables{Credit: credit, RateDelta: rate, LTV: ltv, LoanSize: size}, nil
}

func loadScenarios(path string) (map[string]valtypes.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, valerr.New(valerr.MissingArtifact, "scenarios.json: "+err.Error())
	}
	var list []valtypes.Scenario
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, valerr.New(valerr.BadFormat, "scenarios.json: "+err.Error())
	}
	out := make(map[string]valtypes.Scenario, len(list))
	for _, s := range list {
		out[s.Name] = s
	}
	return out, nil
}

// CurveVariant returns the name of the currently selected survival
// curve variant.
func (r *Registry) CurveVariant() string { return r.curveVariant }

// Survival returns the survival curve for a leaf id, or false if the
// leaf has no curve loaded.
func (r *Registry) Survival(leafID int) (SurvivalCurve, bool) {
	c, ok := r.survivalByLeaf[leafID]
	return c, ok
}

// Tree returns the segmentation decision tree, or nil when unavailable.
func (r *Registry) Tree() *leafassign.Tree { return r.tree }

// Rules returns the rules-table fallback, or nil when unavailable.
func (r *Registry) Rules() []leafassign.Rule { return r.rules }

// APEX2 returns the loaded APEX2 lookup tables.
func (r *Registry) APEX2() apex2.Tables { return r.apex2Tables }

// Scenario looks up a named scenario from the catalogue.
func (r *Registry) Scenario(name string) (valtypes.Scenario, bool) {
	s, ok := r.scenarios[name]
	return s, ok
}

// Manifest builds the status view: name, version, status tag, and
// optional metrics for each loaded model (spec §4.1).
func (r *Registry) Manifest() valtypes.ModelManifest {
	models := make(map[string]valtypes.ModelManifestEntry, len(r.manifest.Models))
	for name, m := range r.manifest.Models {
		models[name] = valtypes.ModelManifestEntry{
			Name:    name,
			Version: m.Version,
			Status:  m.Status,
			Metrics: m.Metrics,
		}
	}
	return valtypes.ModelManifest{Models: models, CurveVariant: r.curveVariant}
}
