// Package model defines the core memory data types.
package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle state of a memory.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusSchema   Status = "schema"
)

// ValidStatuses are the allowed memory statuses.
var ValidStatuses = map[Status]bool{
	StatusActive:   true,
	StatusArchived: true,
	StatusSchema:   true,
}

// Metadata is the free-form descriptive part of a memory. Extra holds
// values as they read back from YAML: a stored float64 of 3.0 comes back
// as int 3.
type Metadata struct {
	Tags    []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Source  string         `yaml:"source,omitempty" json:"source,omitempty"`
	Context string         `yaml:"context,omitempty" json:"context,omitempty"`
	Extra   map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// Memory is the atomic unit of knowledge. Content is stored as the file
// body, everything else in the front-matter.
type Memory struct {
	ID               string     `yaml:"id" json:"id"`
	Content          string     `yaml:"-" json:"content"`
	Summary          string     `yaml:"summary,omitempty" json:"summary,omitempty"`
	Metadata         Metadata   `yaml:"metadata" json:"metadata"`
	CreatedAt        time.Time  `yaml:"created_at" json:"created_at"`
	LastAccess       time.Time  `yaml:"last_access" json:"last_access"`
	AccessCount      int        `yaml:"access_count" json:"access_count"`
	Strength         float64    `yaml:"strength" json:"strength"`
	Status           Status     `yaml:"status" json:"status"`
	PromotedTo       string     `yaml:"promoted_to,omitempty" json:"promoted_to,omitempty"`
	PromotedAt       *time.Time `yaml:"promoted_at,omitempty" json:"promoted_at,omitempty"`
	Embedding        []float32  `yaml:"embedding,omitempty,flow" json:"embedding,omitempty"`
	Entities         []string   `yaml:"entities,omitempty" json:"entities,omitempty"`
	ReviewPriority   float64    `yaml:"review_priority" json:"review_priority"`
	LastReview       *time.Time `yaml:"last_review,omitempty" json:"last_review,omitempty"`
	ReviewCount      int        `yaml:"review_count" json:"review_count"`
	CrossDomainCount int        `yaml:"cross_domain_count" json:"cross_domain_count"`
}

// Validate checks the invariants every stored memory must hold.
func (m *Memory) Validate() error {
	if err := ValidateID(m.ID); err != nil {
		return err
	}
	if !ValidStatuses[m.Status] {
		return fmt.Errorf("memory %s: invalid status %q", m.ID, m.Status)
	}
	if m.Strength < 0 {
		return fmt.Errorf("memory %s: negative strength %v", m.ID, m.Strength)
	}
	if m.AccessCount < 0 {
		return fmt.Errorf("memory %s: negative access count", m.ID)
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("memory %s: missing created_at", m.ID)
	}
	return nil
}

// HasTag reports whether the memory carries tag.
func (m *Memory) HasTag(tag string) bool {
	return slices.Contains(m.Metadata.Tags, tag)
}

// Clone returns a deep copy so cached records never leak shared slices.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	c.Metadata.Tags = slices.Clone(m.Metadata.Tags)
	if m.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]any, len(m.Metadata.Extra))
		for k, v := range m.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	c.Embedding = slices.Clone(m.Embedding)
	c.Entities = slices.Clone(m.Entities)
	c.PromotedAt = cloneTime(m.PromotedAt)
	c.LastReview = cloneTime(m.LastReview)
	return &c
}

// ValidateID rejects identifiers that cannot be used as a file name.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("invalid id (empty)")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("invalid id %q (contains path separator)", id)
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
