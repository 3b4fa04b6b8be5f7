// Package stream provides per-session progress-event delivery: a bounded
// FIFO channel written by pipeline agents and drained by one consumer
// (the SSE adapter), plus the session registry that owns channel lifetime.
package stream

import "time"

// Regions route events to coarse UI areas.
const (
	RegionProcess    = "process"
	RegionAnalysis   = "analysis"
	RegionGeneration = "generation"
	RegionReview     = "review"
	RegionError      = "error"
)

// Event is one unit of client-visible progress output. Exactly one event per
// session carries IsFinal=true and it is always the last one delivered.
type Event struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Region    string    `json:"region"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}
