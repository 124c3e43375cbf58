package protocol

import (
	"math"
	"time"
)

// DriftThresholdSeconds is how far a follower may drift from the derived
// authoritative position before it applies a hard seek. Smaller divergence is
// left to converge on its own to avoid visible judder.
const DriftThresholdSeconds = 2.0

// PlaybackState is the authoritative playback snapshot. Only the host writes
// it; followers derive the current position by extrapolation.
type PlaybackState struct {
	SourceURL       string    `json:"sourceUrl,omitempty"`
	SourceKind      string    `json:"sourceKind,omitempty"`
	VideoID         string    `json:"videoId,omitempty"`
	Channel         string    `json:"channel,omitempty"`
	IsPlaying       bool      `json:"isPlaying"`
	PositionSeconds float64   `json:"positionSeconds"`
	LastUpdatedAt   time.Time `json:"lastUpdatedAt"`
	UpdatedBy       string    `json:"updatedBy,omitempty"`
}

// PositionAt derives the current playback position at the given instant.
func (p PlaybackState) PositionAt(now time.Time) float64 {
	if !p.IsPlaying {
		return p.PositionSeconds
	}
	pos := p.PositionSeconds + now.Sub(p.LastUpdatedAt).Seconds()
	if pos < 0 {
		return 0
	}
	return pos
}

// Drift returns how far a locally observed position is from the derived
// authoritative position at the given instant.
func (p PlaybackState) Drift(localPosition float64, now time.Time) float64 {
	return math.Abs(localPosition - p.PositionAt(now))
}

// NeedsHardSeek reports whether a follower at localPosition should snap to
// the authoritative position instead of playing on.
func (p PlaybackState) NeedsHardSeek(localPosition float64, now time.Time) bool {
	return p.Drift(localPosition, now) > DriftThresholdSeconds
}
