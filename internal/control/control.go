// Package control provides a unix-socket command channel to a running
// scheduler daemon. The CLI uses it for live state the database cannot
// show: whether the daemon is up and what it is executing right now.
package control

import "path/filepath"

// CommandType identifies a control command.
type CommandType string

const (
	// CommandStatus requests a snapshot of the scheduler state.
	CommandStatus CommandType = "status"

	// CommandPauseGroup pauses scheduling for a group's issues.
	CommandPauseGroup CommandType = "pause-group"

	// CommandResumeGroup resumes a paused group.
	CommandResumeGroup CommandType = "resume-group"
)

// Command is one request sent over the control socket.
type Command struct {
	Type    CommandType `json:"type"`
	GroupID string      `json:"group_id,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// Response is the daemon's answer to a Command.
type Response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// SocketPath returns the control socket location for a repository.
func SocketPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".loom", "control.sock")
}
