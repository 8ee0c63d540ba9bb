// Package overlay stores rectangular annotations attached to a relayed video
// and renders them onto frames.
package overlay

import (
	"context"
	"errors"
)

var (
	// ErrInvalidID is returned when an identifier is malformed for the backend
	ErrInvalidID = errors.New("invalid ID format")

	// ErrMissingGeometry is returned when an overlay lacks position or size
	ErrMissingGeometry = errors.New("position and size are required")
)

// Position is the top-left corner of an overlay in frame pixels
type Position struct {
	X float64 `json:"x" yaml:"x" bson:"x"`
	Y float64 `json:"y" yaml:"y" bson:"y"`
}

// Size is the extent of an overlay in frame pixels
type Size struct {
	Width  float64 `json:"width" yaml:"width" bson:"width"`
	Height float64 `json:"height" yaml:"height" bson:"height"`
}

// Overlay is one stored annotation
type Overlay struct {
	ID       string    `json:"id" yaml:"id" bson:"-"`
	Type     string    `json:"type,omitempty" yaml:"type,omitempty" bson:"type,omitempty"`
	Content  string    `json:"content,omitempty" yaml:"content,omitempty" bson:"content,omitempty"`
	Position *Position `json:"position,omitempty" yaml:"position,omitempty" bson:"position,omitempty"`
	Size     *Size     `json:"size,omitempty" yaml:"size,omitempty" bson:"size,omitempty"`
}

// HasGeometry reports whether both position and size are set
func (o Overlay) HasGeometry() bool {
	return o.Position != nil && o.Size != nil
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Type     *string   `json:"type,omitempty"`
	Content  *string   `json:"content,omitempty"`
	Position *Position `json:"position,omitempty"`
	Size     *Size     `json:"size,omitempty"`
}

// IsEmpty reports whether the patch sets nothing
func (p Patch) IsEmpty() bool {
	return p.Type == nil && p.Content == nil && p.Position == nil && p.Size == nil
}

// Apply sets the patched fields on o and reports whether anything changed
func (p Patch) Apply(o *Overlay) bool {
	changed := false
	if p.Type != nil && *p.Type != o.Type {
		o.Type = *p.Type
		changed = true
	}
	if p.Content != nil && *p.Content != o.Content {
		o.Content = *p.Content
		changed = true
	}
	if p.Position != nil && (o.Position == nil || *o.Position != *p.Position) {
		pos := *p.Position
		o.Position = &pos
		changed = true
	}
	if p.Size != nil && (o.Size == nil || *o.Size != *p.Size) {
		size := *p.Size
		o.Size = &size
		changed = true
	}
	return changed
}

// fields returns the patch as field name to value, keyed by stored names
func (p Patch) fields() map[string]any {
	out := make(map[string]any, 4)
	if p.Type != nil {
		out["type"] = *p.Type
	}
	if p.Content != nil {
		out["content"] = *p.Content
	}
	if p.Position != nil {
		out["position"] = *p.Position
	}
	if p.Size != nil {
		out["size"] = *p.Size
	}
	return out
}

// Store persists overlays.
// Update and Delete return false when no record was modified or removed.
// Malformed identifiers fail with ErrInvalidID.
type Store interface {
	Create(ctx context.Context, o Overlay) (string, error)
	List(ctx context.Context) ([]Overlay, error)
	Update(ctx context.Context, id string, patch Patch) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	Close(ctx context.Context) error
}
