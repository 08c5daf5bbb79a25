package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxLabelLength       = 100
	MaxDescriptionLength = 1000
)

type Task struct {
	ID          string `json:"id"`
	Label       string `json:"label" minLength:"1" maxLength:"100"`
	Description string `json:"description,omitempty" maxLength:"1000"`
	Completed   bool   `json:"completed"`
}

func (t Task) RecordID() string { return t.ID }

// TaskPatch carries the fields an edit changes; nil fields are left alone.
type TaskPatch struct {
	Label       *string `json:"label,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

func (p TaskPatch) Empty() bool {
	return p.Label == nil && p.Description == nil && p.Completed == nil
}

func (p TaskPatch) Apply(t Task) Task {
	if p.Label != nil {
		t.Label = strings.TrimSpace(*p.Label)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	return t
}

// Validate checks only the fields the patch sets.
func (p TaskPatch) Validate() error {
	if p.Label != nil {
		if err := ValidateLabel(*p.Label); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := ValidateDescription(*p.Description); err != nil {
			return err
		}
	}
	return nil
}

type Group string

const (
	GroupActive    Group = "active"
	GroupCompleted Group = "completed"
)

func GroupOf(t Task) Group {
	if t.Completed {
		return GroupCompleted
	}
	return GroupActive
}

func ParseGroup(s string) (Group, error) {
	switch Group(strings.ToLower(strings.TrimSpace(s))) {
	case GroupActive:
		return GroupActive, nil
	case GroupCompleted, "done":
		return GroupCompleted, nil
	}
	return "", &ValidationError{Field: "group", Message: fmt.Sprintf("unknown group %q (want active or completed)", s)}
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	if err := ValidateLabel(t.Label); err != nil {
		return err
	}
	return ValidateDescription(t.Description)
}

func ValidateLabel(label string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(label))
	switch {
	case n == 0:
		return &ValidationError{Field: "label", Message: "label is required"}
	case n > MaxLabelLength:
		return &ValidationError{Field: "label", Message: fmt.Sprintf("label must be at most %d characters long", MaxLabelLength)}
	}
	return nil
}

func ValidateDescription(description string) error {
	if utf8.RuneCountInString(strings.TrimSpace(description)) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Message: fmt.Sprintf("description must be at most %d characters long", MaxDescriptionLength)}
	}
	return nil
}
