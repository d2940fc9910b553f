// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scoring assigns each session a probability in [0,1] that a real
// booking occurred, from behavioral evidence alone.
//
// # Description
//
// The engine is a pure, deterministic function over a SessionSummary and an
// explicit-confirmation flag. Four capped sub-scores (booking page dwell,
// iframe interaction volume, recency of activity, iframe visibility) are
// summed and clamped to 1.0. The sum is deliberately not renormalized:
// maxing every category reaches exactly 1.0, and one strong category alone
// only partially fills the score.
//
// An explicit booking-confirmation signal is ground truth, not a heuristic,
// and forces the score to 1.0 regardless of the sub-scores.
//
// All weights and thresholds live in a single Weights structure so tuning
// is a one-point edit and tests can assert the documented literals.
package scoring

import (
	"time"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
)

// Tier is one threshold step of a sub-score: meeting Min earns Weight.
type Tier struct {
	Min    float64 `yaml:"min"`
	Weight float64 `yaml:"weight"`
}

// Weights holds every heuristic constant consumed by Score.
//
// Each tier list must be ordered by descending Min; the first tier whose
// Min the observed value meets wins. An input matching no tier contributes
// zero.
type Weights struct {
	// BookingPageTime tiers are keyed on seconds spent on the booking page.
	BookingPageTime []Tier `yaml:"booking_page_time"`

	// IframeInteractions tiers are keyed on the count of iframe-area
	// interactions.
	IframeInteractions []Tier `yaml:"iframe_interactions"`

	// Recency tiers are keyed on seconds since last activity; the first
	// tier whose Min is GREATER than the observed value wins (more recent
	// is better, so these are upper bounds rather than lower bounds).
	Recency []Tier `yaml:"recency"`

	// VisibilityHigh/VisibilityMid are intersection-ratio floors for the
	// two stronger visibility awards; any visible iframe earns
	// VisibilityBase.
	VisibilityHigh     Tier    `yaml:"visibility_high"`
	VisibilityMid      Tier    `yaml:"visibility_mid"`
	VisibilityBase     float64 `yaml:"visibility_base"`
	EstimatedThreshold float64 `yaml:"estimated_threshold"`
}

// DefaultWeights returns the operator-documented heuristic constants.
//
//	booking page time: >=300s +0.30, >=120s +0.20, >=60s +0.10
//	iframe interactions: >10 +0.25, >5 +0.15, >=2 +0.10
//	recency: <30s +0.20, <60s +0.15, <120s +0.10
//	visibility: visible & ratio>0.75 +0.25, >0.5 +0.20, visible +0.10
func DefaultWeights() Weights {
	return Weights{
		BookingPageTime: []Tier{
			{Min: 300, Weight: 0.30},
			{Min: 120, Weight: 0.20},
			{Min: 60, Weight: 0.10},
		},
		IframeInteractions: []Tier{
			{Min: 11, Weight: 0.25},
			{Min: 6, Weight: 0.15},
			{Min: 2, Weight: 0.10},
		},
		Recency: []Tier{
			{Min: 30, Weight: 0.20},
			{Min: 60, Weight: 0.15},
			{Min: 120, Weight: 0.10},
		},
		VisibilityHigh:     Tier{Min: 0.75, Weight: 0.25},
		VisibilityMid:      Tier{Min: 0.5, Weight: 0.20},
		VisibilityBase:     0.10,
		EstimatedThreshold: 0.5,
	}
}

// Engine scores session summaries with a fixed set of weights.
//
// Engine holds no mutable state and performs no I/O; it is safe for
// concurrent use and fully deterministic for a given input.
type Engine struct {
	weights Weights
}

// NewEngine creates an Engine with the given weights.
func NewEngine(weights Weights) *Engine {
	return &Engine{weights: weights}
}

// Weights returns the engine's weight configuration.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Score computes the confidence score for a session summary.
//
// # Description
//
// Pure function: same summary, confirmation flag and reference time always
// yield the same score. Missing or negative numeric inputs are clamped to
// zero rather than rejected, since a summary is best-effort derived data.
//
// # Inputs
//
//   - summary: The session summary. A nil summary scores 0 (or 1.0 with an
//     explicit confirmation, which dominates everything).
//   - explicitConfirmation: True when a booking-confirmation signal was
//     observed. Forces the score to 1.0.
//   - now: Reference time for the recency sub-score. Passed in rather than
//     read from the system clock to keep the function pure.
//
// # Outputs
//
//   - float64: Confidence score, always within [0,1].
func (e *Engine) Score(summary *datatypes.SessionSummary, explicitConfirmation bool, now time.Time) float64 {
	if explicitConfirmation {
		return 1.0
	}
	if summary == nil {
		return 0
	}

	total := e.timeSubScore(summary)
	total += e.interactionSubScore(summary)
	total += e.recencySubScore(summary, now)
	total += e.visibilitySubScore(summary)

	return clamp01(total)
}

// EstimatedConversion reports whether a score clears the operator-configured
// threshold.
func (e *Engine) EstimatedConversion(score float64) bool {
	return score >= e.weights.EstimatedThreshold
}

func (e *Engine) timeSubScore(summary *datatypes.SessionSummary) float64 {
	seconds := float64(summary.BookingPageTimeSeconds)
	if seconds < 0 {
		seconds = 0
	}
	for _, tier := range e.weights.BookingPageTime {
		if seconds >= tier.Min {
			return tier.Weight
		}
	}
	return 0
}

func (e *Engine) interactionSubScore(summary *datatypes.SessionSummary) float64 {
	count := float64(summary.IframeInteractions)
	if count < 0 {
		count = 0
	}
	for _, tier := range e.weights.IframeInteractions {
		if count >= tier.Min {
			return tier.Weight
		}
	}
	return 0
}

func (e *Engine) recencySubScore(summary *datatypes.SessionSummary, now time.Time) float64 {
	if summary.LastActivityAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(summary.LastActivityAt).Seconds()
	if elapsed < 0 {
		// Client clock ahead of ours; treat as "just now".
		elapsed = 0
	}
	// Recency tiers are upper bounds: the tightest bound the elapsed time
	// fits under wins.
	best := 0.0
	for _, tier := range e.weights.Recency {
		if elapsed < tier.Min && tier.Weight > best {
			best = tier.Weight
		}
	}
	return best
}

func (e *Engine) visibilitySubScore(summary *datatypes.SessionSummary) float64 {
	if !summary.IframeVisible {
		return 0
	}
	ratio := summary.IframeVisibleRatioPeak
	if ratio > e.weights.VisibilityHigh.Min {
		return e.weights.VisibilityHigh.Weight
	}
	if ratio > e.weights.VisibilityMid.Min {
		return e.weights.VisibilityMid.Weight
	}
	return e.weights.VisibilityBase
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
