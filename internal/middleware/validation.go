package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageBody validates inbound message content.
func ValidateMessageBody(body string) error {
	if len(body) == 0 {
		return errors.New("body cannot be empty")
	}
	if len(body) > 100000 { // ~100KB limit
		return errors.New("body exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("body must be valid UTF-8")
	}
	return nil
}

// ValidateThreadID validates a request thread identifier.
func ValidateThreadID(id string) error {
	if len(id) == 0 {
		return errors.New("thread ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("thread ID exceeds maximum length")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateCustomerContact validates a customer contact address.
func ValidateCustomerContact(contact string) error {
	if len(contact) == 0 {
		return errors.New("customer contact cannot be empty")
	}
	if len(contact) > 320 || !strings.Contains(contact, "@") {
		return errors.New("customer contact must be an email address")
	}
	return nil
}

// ValidateService validates a quota service name.
func ValidateService(service string) error {
	switch service {
	case "returns", "promo_refunds", "subscription_changes":
		return nil
	}
	return errors.New("unknown service")
}
