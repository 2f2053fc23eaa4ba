package domain

// RoomID is unique process-wide while the room is non-empty.
type RoomID string

// HostInfo tags the room's source-of-truth speaker for translation decisions.
type HostInfo struct {
	HostID   PeerID `json:"hostId"`
	HostLang string `json:"hostLang"`
}
