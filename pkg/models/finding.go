package models

import (
	"fmt"
	"math"
	"strings"
)

// Tier is a named scan depth
type Tier string

const (
	TierQuick    Tier = "quick"
	TierStandard Tier = "standard"
	TierDeep     Tier = "deep"
)

// Tiers lists every tier from shallowest to deepest
var Tiers = []Tier{TierQuick, TierStandard, TierDeep}

// Valid reports whether t is one of the known tiers
func (t Tier) Valid() bool {
	switch t {
	case TierQuick, TierStandard, TierDeep:
		return true
	default:
		return false
	}
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier parses a tier name (case-insensitive)
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q (valid: quick, standard, deep)", s)
	}
	return t, nil
}

// Finding is a scored diagnostic result produced by a single check.
// Built once by NewFinding and never modified afterwards.
type Finding struct {
	ID         string  `json:"id" yaml:"id"`
	Tier       Tier    `json:"tier" yaml:"tier"`
	Category   string  `json:"category" yaml:"category"`
	Impact     int     `json:"impact" yaml:"impact"`
	Confidence int     `json:"confidence" yaml:"confidence"`
	Effort     int     `json:"effort" yaml:"effort"`
	Priority   int     `json:"priority" yaml:"priority"`
	Evidence   string  `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	FixID      string  `json:"fix_id,omitempty" yaml:"fix_id,omitempty"`
	Message    string  `json:"message" yaml:"message"`
	Score      float64 `json:"score" yaml:"score"`
}

// FindingSpec carries the inputs of a Finding; Score is derived
type FindingSpec struct {
	ID         string
	Tier       Tier
	Category   string
	Impact     int
	Confidence int
	Effort     int
	Priority   int
	Evidence   string
	FixID      string
	Message    string
}

// NewFinding validates spec and computes the score
func NewFinding(spec FindingSpec) (*Finding, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("finding id is required")
	}
	if !spec.Tier.Valid() {
		return nil, fmt.Errorf("finding %s: invalid tier %q", spec.ID, spec.Tier)
	}
	if spec.Effort < 0 {
		return nil, fmt.Errorf("finding %s: effort must be >= 0, got %d", spec.ID, spec.Effort)
	}
	if spec.Impact < 0 || spec.Confidence < 0 {
		return nil, fmt.Errorf("finding %s: impact and confidence must be >= 0", spec.ID)
	}

	return &Finding{
		ID:         spec.ID,
		Tier:       spec.Tier,
		Category:   spec.Category,
		Impact:     spec.Impact,
		Confidence: spec.Confidence,
		Effort:     spec.Effort,
		Priority:   spec.Priority,
		Evidence:   spec.Evidence,
		FixID:      spec.FixID,
		Message:    spec.Message,
		Score:      Score(spec.Impact, spec.Confidence, spec.Effort),
	}, nil
}

// Score returns round((impact*confidence)/(effort+1), 2)
func Score(impact, confidence, effort int) float64 {
	raw := float64(impact*confidence) / float64(effort+1)
	return math.Round(raw*100) / 100
}
