package model

import (
	"fmt"
	"time"
)

// RelationType is the kind of edge between two memories.
type RelationType string

const (
	RelConsolidatedFrom RelationType = "consolidated_from"
	RelSplitFrom        RelationType = "split_from"
	RelRelated          RelationType = "related"
	RelCauses           RelationType = "causes"
	RelSupports         RelationType = "supports"
	RelContradicts      RelationType = "contradicts"
)

// ValidRelationTypes are the allowed relation types.
var ValidRelationTypes = map[RelationType]bool{
	RelConsolidatedFrom: true,
	RelSplitFrom:        true,
	RelRelated:          true,
	RelCauses:           true,
	RelSupports:         true,
	RelContradicts:      true,
}

// IsDerivation reports whether the type records provenance. Derivation
// edges point from the derived record to its predecessor.
func (t RelationType) IsDerivation() bool {
	return t == RelConsolidatedFrom || t == RelSplitFrom
}

// Relation is a directed, typed edge between two memory ids.
type Relation struct {
	ID        string         `yaml:"id" json:"id"`
	Source    string         `yaml:"source" json:"source"`
	Target    string         `yaml:"target" json:"target"`
	Type      RelationType   `yaml:"type" json:"type"`
	Strength  float64        `yaml:"strength" json:"strength"`
	CreatedAt time.Time      `yaml:"created_at" json:"created_at"`
	Metadata  map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Validate checks the relation's shape. Endpoints are not resolved here:
// a dangling endpoint is tolerated.
func (r *Relation) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if r.Source == "" || r.Target == "" {
		return fmt.Errorf("relation %s: missing endpoint", r.ID)
	}
	if !ValidRelationTypes[r.Type] {
		return fmt.Errorf("relation %s: invalid type %q", r.ID, r.Type)
	}
	return nil
}

// Touches reports whether id is either endpoint.
func (r *Relation) Touches(id string) bool {
	return r.Source == id || r.Target == id
}

// Clone returns a deep copy.
func (r *Relation) Clone() *Relation {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
