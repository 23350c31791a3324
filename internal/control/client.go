package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client issues commands to a daemon's control socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 10 * time.Second}
}

// Send delivers one command and waits for the response. A connection
// failure usually means no daemon is running for this repository.
func (c *Client) Send(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to reach scheduler daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// Status fetches a live snapshot of the scheduler.
func (c *Client) Status() (*Response, error) {
	return c.Send(Command{Type: CommandStatus})
}

// PauseGroup pauses scheduling for a group.
func (c *Client) PauseGroup(groupID, reason string) (*Response, error) {
	return c.Send(Command{Type: CommandPauseGroup, GroupID: groupID, Reason: reason})
}

// ResumeGroup resumes a paused group.
func (c *Client) ResumeGroup(groupID string) (*Response, error) {
	return c.Send(Command{Type: CommandResumeGroup, GroupID: groupID})
}
