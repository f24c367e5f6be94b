package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmptyTitle      = errors.New("title is empty")
	ErrEmptyBody       = errors.New("body is empty")
	ErrUnknownType     = errors.New("unknown notification type")
	ErrUnknownCategory = errors.New("unknown category")
	ErrNoChannels      = errors.New("at least one channel is required")
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrNoTargetUsers   = errors.New("target users are required for this notification type")
	ErrInvalidText     = errors.New("text is not valid UTF-8")
)

// ValidationError reports the first invariant an Envelope violates.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// Validate checks e and returns the first violation, in this order:
// title, body, type, category, channels present, channels known, target users.
// Title, body and kept target ids must be valid UTF-8 so they survive the
// JSON wire form unchanged.
//
// On success duplicate channels are collapsed keeping first occurrence, and
// target users are dropped for SystemWide notifications.
func Validate(e Envelope) (ValidEnvelope, error) {
	if strings.TrimSpace(e.Title) == "" {
		return ValidEnvelope{}, invalid("title", ErrEmptyTitle)
	}
	if !utf8.ValidString(e.Title) {
		return ValidEnvelope{}, invalid("title", ErrInvalidText)
	}
	if strings.TrimSpace(e.Body) == "" {
		return ValidEnvelope{}, invalid("body", ErrEmptyBody)
	}
	if !utf8.ValidString(e.Body) {
		return ValidEnvelope{}, invalid("body", ErrInvalidText)
	}
	if !e.Type.Valid() {
		return ValidEnvelope{}, invalid("type", fmt.Errorf("%w: %q", ErrUnknownType, e.Type))
	}
	if !e.Category.Valid() {
		return ValidEnvelope{}, invalid("category", fmt.Errorf("%w: %q", ErrUnknownCategory, e.Category))
	}
	if len(e.Channels) == 0 {
		return ValidEnvelope{}, invalid("channels", ErrNoChannels)
	}

	channels := make([]Channel, 0, len(e.Channels))
	for _, c := range e.Channels {
		if !c.Valid() {
			return ValidEnvelope{}, invalid("channels", fmt.Errorf("%w: %q", ErrUnknownChannel, c))
		}
		if !slices.Contains(channels, c) {
			channels = append(channels, c)
		}
	}

	var targets []string
	if e.Type.NeedsTargets() {
		if len(e.TargetUsers) == 0 {
			return ValidEnvelope{}, invalid("target_users", ErrNoTargetUsers)
		}
		for _, id := range e.TargetUsers {
			if !utf8.ValidString(id) {
				return ValidEnvelope{}, invalid("target_users", fmt.Errorf("%w: %q", ErrInvalidText, id))
			}
		}
		targets = append(targets, e.TargetUsers...)
	}

	return ValidEnvelope{env: Envelope{
		Title:       e.Title,
		Body:        e.Body,
		Type:        e.Type,
		Category:    e.Category,
		Channels:    channels,
		TargetUsers: targets,
	}}, nil
}
