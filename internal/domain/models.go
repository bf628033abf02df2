// Package domain defines the core data types shared across the bridge,
// operation facade, and discovery layers.
package domain

import "time"

// Session lifecycle states.
const (
	SessionStateConnected = "connected"
	SessionStateGrace     = "grace"
)

// SessionInfo is a read-only snapshot of one identified plugin session.
type SessionInfo struct {
	FileKey     string    `json:"fileKey"`
	FileName    string    `json:"fileName"`
	CurrentPage string    `json:"currentPage,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	IsActive    bool      `json:"isActive"`
	State       string    `json:"state"`
}

// Advertisement is the on-disk record a running bridge writes so other local
// processes can find it.
type Advertisement struct {
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	StartedAt time.Time `json:"startedAt"`
}
