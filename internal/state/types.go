package state

import (
	"github.com/loykin/appstate/internal/config"
)

// PersistedState is the subset of AppState written to the state file.
type PersistedState struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	PID          uint32 `json:"pid"`
	EventCounter uint32 `json:"event_counter"`
}

// Status describes the coarse lifecycle phase of the host application.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusIdle     Status = "idle"
	StatusWarning  Status = "warning"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusUnknown  Status = "unknown"
)

// ErrorItem is one entry of the in-memory error log.
type ErrorItem struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error types recorded by the checkpoint helpers.
const (
	ErrorTypeGeneral  = "general"
	ErrorTypeResource = "resource"
)

// Output is a captured stdout or stderr line.
type Output struct {
	Timestamp uint64 `json:"timestamp"`
	Line      string `json:"line"`
}

// AppState is the full in-memory record owned by the host.
// Only Name, Version, PID and EventCounter are persisted; the rest keeps
// whatever the host assigns and is never touched by LoadState.
type AppState struct {
	Name              string           `json:"name"`
	Version           string           `json:"version"`
	Data              string           `json:"data"`
	Status            Status           `json:"status"`
	PID               uint32           `json:"pid"`
	LastUpdated       uint64           `json:"last_updated"`
	StartedAt         uint64           `json:"started_at"`
	EventCounter      uint32           `json:"event_counter"`
	ErrorLog          []ErrorItem      `json:"error_log,omitempty"`
	Config            config.AppConfig `json:"config"`
	SystemApplication bool             `json:"system_application"`
	Stdout            []Output         `json:"stdout,omitempty"`
	Stderr            []Output         `json:"stderr,omitempty"`
}

// Persisted returns the fields written by SaveState.
func (a *AppState) Persisted() PersistedState {
	return PersistedState{
		Name:         a.Name,
		Version:      a.Version,
		PID:          a.PID,
		EventCounter: a.EventCounter,
	}
}

// Apply overwrites the persisted fields and leaves the rest untouched.
func (a *AppState) Apply(p PersistedState) {
	a.Name = p.Name
	a.Version = p.Version
	a.PID = p.PID
	a.EventCounter = p.EventCounter
}
