// Package models defines the core data structures for Cityping.
//
// It includes the validated conversation result consumed by the message
// composer, plus shared error variables used across modules.
package models

import "errors"

// EventKind is the fixed tag applied to every outbound event idea.
const EventKind = "event"

// FallbackVenue is used when the assistant omits an event location.
const FallbackVenue = "City"

// FallbackIcon is used when a forecast entry carries no weather symbol.
const FallbackIcon = "🌤️"

// FallbackSignoff closes every message when the assistant omits one.
const FallbackSignoff = "— din Københavner-bot ☁️"

// MaxEvents caps how many event ideas one result may carry.
const MaxEvents = 5

// Error variables for better error handling and testability
var (
	ErrNoRecipients    = errors.New("no recipients configured")
	ErrEmptyMessage    = errors.New("message body cannot be empty")
	ErrMissingAgentID  = errors.New("agent id is required")
	ErrMissingEndpoint = errors.New("agent endpoint is required")
)

// ForecastDay is one entry of the weather sketch.
// The JSON tags are the wire contract with the assistant and the composer.
type ForecastDay struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
	TMax  int    `json:"tmax"`
}

// EventIdea is a single social-event suggestion.
type EventIdea struct {
	Title string `json:"title"`
	Where string `json:"where"`
	Kind  string `json:"kind"`
}

// ConversationResult is the validated output of one conversation flow
// invocation. It is immutable after construction; the composer reads it.
type ConversationResult struct {
	Intro    string        `json:"intro"`
	Forecast []ForecastDay `json:"forecast"`
	Events   []EventIdea   `json:"events"`
	Signoff  string        `json:"signoff"`
}
