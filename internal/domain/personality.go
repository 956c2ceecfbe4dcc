package domain

import (
	"fmt"
	"time"
)

// PersonalitySingletonKey keys the single persisted personality record.
// Building a new personality replaces the prior one wholesale.
const PersonalitySingletonKey = "active"

// Personality represents the assistant's current voice: the system prompt and
// a descriptive profile. At most one Personality record exists at any time.
type Personality struct {
	Name         string
	Description  string
	SystemPrompt string
	Metadata     map[string]any
	LastBuiltAt  time.Time
}

// NewPersonality creates a new Personality instance
func NewPersonality(name, description, systemPrompt string, builtAt time.Time) *Personality {
	return &Personality{
		Name:         name,
		Description:  description,
		SystemPrompt: systemPrompt,
		Metadata:     map[string]any{},
		LastBuiltAt:  builtAt,
	}
}

// ValidatePersonality validates a Personality instance
func ValidatePersonality(p *Personality) error {
	if p == nil {
		return fmt.Errorf("personality cannot be nil")
	}

	if p.Name == "" {
		return fmt.Errorf("personality Name is required")
	}

	if p.SystemPrompt == "" {
		return fmt.Errorf("personality SystemPrompt is required")
	}

	if p.LastBuiltAt.IsZero() {
		return fmt.Errorf("personality LastBuiltAt is required")
	}

	return nil
}
