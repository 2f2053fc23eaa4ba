// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxNameLen = 36

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

// PeerID is the opaque connection id, stable for the connection lifetime.
type PeerID string

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Identity is what a joining client declares about itself.
type Identity struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

func NewIdentity(name, lang string) (Identity, error) {
	if len(name) == 0 {
		return Identity{}, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return Identity{}, ErrNameTooLong
	}
	if lang == "" {
		lang = "en-US"
	}
	return Identity{Name: name, Lang: lang}, nil
}
