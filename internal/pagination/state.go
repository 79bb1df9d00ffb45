// Package pagination carries search state through button payloads.
package pagination

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxEncodedSize bounds the token stored in a button value.
const MaxEncodedSize = 2000

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

var (
	ErrInvalidState  = errors.New("invalid pagination state")
	ErrStateTooLarge = errors.New("pagination state too large")
)

// State is everything needed to recompute one result page.
// EntityType is implied by the action id and never serialized.
type State struct {
	EntityType string            `json:"-"`
	Query      string            `json:"q"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	Filters    map[string]string `json:"filters,omitempty"`
}

// New returns a first-page state for entityType.
func New(entityType, query string, limit int) State {
	return State{
		EntityType: entityType,
		Query:      strings.TrimSpace(query),
		Page:       1,
		Limit:      limit,
	}
}

// WithPage returns a copy of s pointing at page.
func (s State) WithPage(page int) State {
	next := s
	next.Page = page
	if len(s.Filters) > 0 {
		next.Filters = make(map[string]string, len(s.Filters))
		for k, v := range s.Filters {
			next.Filters[k] = v
		}
	}
	return next
}

func (s State) Validate() error {
	if s.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1, got %d", ErrInvalidState, s.Page)
	}
	if s.Limit < 1 || s.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrInvalidState, MaxLimit, s.Limit)
	}
	return nil
}

// Encode serializes s as compact JSON. Map keys are emitted sorted, so equal
// states always encode to the same token.
func Encode(s State) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode pagination state: %w", err)
	}

	if len(data) > MaxEncodedSize {
		return "", fmt.Errorf("%w: %d bytes", ErrStateTooLarge, len(data))
	}

	return string(data), nil
}

// Decode parses a token produced by Encode and tags it with entityType.
func Decode(entityType, token string) (State, error) {
	if len(token) > MaxEncodedSize {
		return State{}, fmt.Errorf("%w: %d bytes", ErrStateTooLarge, len(token))
	}

	var s State
	if err := json.Unmarshal([]byte(token), &s); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	s.EntityType = entityType

	if err := s.Validate(); err != nil {
		return State{}, err
	}

	return s, nil
}
