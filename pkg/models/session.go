// Package models contains domain models for chartsense.
package models

import (
	"strings"
	"time"
)

// Rating is the directional sentiment of an analysis.
type Rating string

const (
	RatingBullish Rating = "Bullish"
	RatingBearish Rating = "Bearish"
	RatingNeutral Rating = "Neutral"
)

// Confidence is the self-reported certainty of an analysis.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// ParseRating maps free text to a Rating. Unknown values yield Neutral.
func ParseRating(s string) Rating {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "buy", "long":
		return RatingBullish
	case "bearish", "sell", "short":
		return RatingBearish
	default:
		return RatingNeutral
	}
}

// ParseConfidence maps free text to a Confidence. Unknown values yield Medium.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "low":
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

// DisplayTimeLayout is the layout used for SessionRecord.DisplayTime.
const DisplayTimeLayout = "15:04:05"

// SessionFields are the caller-supplied fields of a SessionRecord.
type SessionFields struct {
	ProviderLabel string     `json:"providerLabel"`
	Rating        Rating     `json:"rating"`
	Confidence    Confidence `json:"confidence"`
	Body          string     `json:"body"`
}

// Normalize fills missing or unrecognised enums with their defaults.
func (f SessionFields) Normalize() SessionFields {
	f.Rating = ParseRating(string(f.Rating))
	f.Confidence = ParseConfidence(string(f.Confidence))
	return f
}

// SessionRecord is one completed analysis. It is never mutated after creation.
type SessionRecord struct {
	ID            int64      `json:"id"`
	CreatedAt     time.Time  `json:"createdAt"`
	DisplayTime   string     `json:"displayTime"`
	ProviderLabel string     `json:"providerLabel"`
	Rating        Rating     `json:"rating"`
	Confidence    Confidence `json:"confidence"`
	Body          string     `json:"body"`
}

// NewSessionRecord creates a record stamped at now, rendered in loc.
func NewSessionRecord(id int64, fields SessionFields, now time.Time, loc *time.Location) SessionRecord {
	if loc == nil {
		loc = time.Local
	}
	fields = fields.Normalize()
	now = now.Round(0)
	return SessionRecord{
		ID:            id,
		CreatedAt:     now,
		DisplayTime:   now.In(loc).Format(DisplayTimeLayout),
		ProviderLabel: fields.ProviderLabel,
		Rating:        fields.Rating,
		Confidence:    fields.Confidence,
		Body:          fields.Body,
	}
}

// Fields returns the caller-supplied part of the record.
func (r SessionRecord) Fields() SessionFields {
	return SessionFields{
		ProviderLabel: r.ProviderLabel,
		Rating:        r.Rating,
		Confidence:    r.Confidence,
		Body:          r.Body,
	}
}

// SessionStats aggregates every stored day bucket.
type SessionStats struct {
	TotalDays     int    `json:"totalDays"`
	TotalSessions int    `json:"totalSessions"`
	TodayCount    int    `json:"todaySessions"`
	OldestDate    string `json:"oldestDate"`
	NewestDate    string `json:"newestDate"`
}
