// Package memory is the durable observation store: append-only events written
// by hooks and the coordinator, plus session bookkeeping. Events are never
// mutated or deleted; full-text search runs over an FTS5 mirror.
package memory

import "time"

// ActorType identifies who produced an event.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAgent  ActorType = "agent"
	ActorHook   ActorType = "hook"
	ActorSystem ActorType = "system"
)

// ScopeType bounds an event's relevance.
type ScopeType string

const (
	ScopeRepo   ScopeType = "repo"
	ScopeGlobal ScopeType = "global"
	ScopeUser   ScopeType = "user"
)

// EventType classifies an observation.
type EventType string

const (
	EventBugfix           EventType = "bugfix"
	EventFeature          EventType = "feature"
	EventRefactor         EventType = "refactor"
	EventDiscovery        EventType = "discovery"
	EventDecision         EventType = "decision"
	EventLesson           EventType = "lesson"
	EventChange           EventType = "change"
	EventGeneric          EventType = "event"
	EventPatternCandidate EventType = "pattern_candidate"
	EventSkillSuggestion  EventType = "skill_suggestion"
	EventRuleProposal     EventType = "rule_proposal"
	EventLearningDecision EventType = "learning_decision"
	EventRejectedPattern  EventType = "rejected_pattern"
	EventSpecStarted      EventType = "spec_started"
	EventSpecCompleted    EventType = "spec_completed"
)

// Event is one durable observation.
type Event struct {
	ID             int64             `json:"id,omitempty"`
	TS             string            `json:"ts"`
	Actor          ActorType         `json:"actor"`
	Scope          ScopeType         `json:"scope"`
	Type           EventType         `json:"type"`
	Text           string            `json:"text"`
	Title          string            `json:"title,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Refs           map[string]string `json:"refs,omitempty"`
	TTL            string            `json:"ttl,omitempty"`
	Importance     float64           `json:"importance"`
	DedupeKey      string            `json:"dedupe_key,omitempty"`
	Project        string            `json:"project,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	CreatedAtEpoch int64             `json:"created_at_epoch"`
}

// NewEvent returns an event with timestamps and defaults filled in.
func NewEvent(eventType EventType, text string) Event {
	now := time.Now().UTC()
	return Event{
		TS:             now.Format(time.RFC3339Nano),
		Actor:          ActorAgent,
		Scope:          ScopeRepo,
		Type:           eventType,
		Text:           text,
		Importance:     0.5,
		CreatedAtEpoch: now.UnixMilli(),
	}
}

// Session is one contiguous assistant conversation.
type Session struct {
	ID               int64  `json:"id,omitempty"`
	ContentSessionID string `json:"content_session_id"`
	Project          string `json:"project"`
	InitialPrompt    string `json:"initial_prompt,omitempty"`
	StartedAt        string `json:"started_at"`
	EndedAt          string `json:"ended_at,omitempty"`
}

// Stats summarizes the store.
type Stats struct {
	TotalEvents   int               `json:"total_events"`
	TotalSessions int               `json:"total_sessions"`
	EventsByType  map[EventType]int `json:"events_by_type"`
}

// SearchFilter narrows a full-text search. Zero values mean "no filter".
type SearchFilter struct {
	Type      EventType
	Scope     ScopeType
	Project   string
	DateStart string
	DateEnd   string
	Limit     int
	Offset    int
}
