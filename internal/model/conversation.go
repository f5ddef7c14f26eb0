// Package model defines data structures for the request-automation engine.
package model

import (
	"time"
)

// State represents the lifecycle state of a conversation.
type State string

const (
	StateCollectingInfo State = "collecting_info"
	StateEvaluating     State = "evaluating"
	StateApproved       State = "approved"
	StateDenied         State = "denied"
	StateEscalated      State = "escalated"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateDenied, StateEscalated:
		return true
	}
	return false
}

// Resolution records the terminal outcome of a conversation.
type Resolution struct {
	Outcome    State     `json:"outcome"`
	Reason     string    `json:"reason"`
	Rule       string    `json:"rule,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Conversation is the engine's stateful record of one multi-turn automated
// interaction with a merchant's customer. Conversations are never deleted,
// only marked terminal, so past decisions can always be reconstructed.
type Conversation struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	ThreadID        string `json:"thread_id"`
	RequestID       string `json:"request_id"`
	CustomerContact string `json:"customer_contact"`

	Intent     IntentType `json:"intent"`
	Confidence int        `json:"confidence"`
	Service    string     `json:"service"`

	State           State             `json:"state"`
	MissingFields   []string          `json:"missing_fields,omitempty"`
	CollectedFields map[string]string `json:"collected_fields,omitempty"`

	// FollowUpCount counts information requests sent to the customer,
	// the initial one included. It never exceeds MaxFollowUps.
	FollowUpCount int `json:"follow_up_count"`
	MaxFollowUps  int `json:"max_follow_ups"`

	Resolution *Resolution `json:"resolution,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// MissingField reports whether the named field is still required.
func (c *Conversation) MissingField(name string) bool {
	for _, f := range c.MissingFields {
		if f == name {
			return true
		}
	}
	return false
}

// InboundMessage is one customer message on a request thread.
type InboundMessage struct {
	ThreadID  string `json:"thread_id"`
	RequestID string `json:"request_id"`
	Customer  string `json:"customer"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
