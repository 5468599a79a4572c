package domain

import (
	"fmt"
	"strings"
)

// Role is the content type an embedding was computed from. It selects the
// image reference column and the direct vector column.
type Role string

// Known roles.
const (
	RolePrompt         Role = "prompt"
	RoleNegativePrompt Role = "negative_prompt"
	RoleImage          Role = "image"
)

type roleColumns struct {
	ref    string
	vector Column
}

var roleTable = map[Role]roleColumns{
	RolePrompt:         {ref: "prompt_embedding_ref", vector: ColumnPromptEmbedding},
	RoleNegativePrompt: {ref: "negative_prompt_embedding_ref", vector: ColumnNegativePromptEmbedding},
	RoleImage:          {ref: "image_embedding_ref", vector: ColumnImageEmbedding},
}

// Roles lists every role in column order.
var Roles = []Role{RolePrompt, RoleNegativePrompt, RoleImage}

// ParseRole validates a role token.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleTable[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleTable[r]
	return ok
}

// RefColumn returns the image column holding the cache reference for r.
func (r Role) RefColumn() string { return roleTable[r].ref }

// VectorColumn returns the direct vector column for r.
func (r Role) VectorColumn() Column { return roleTable[r].vector }
