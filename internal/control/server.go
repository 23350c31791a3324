package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Handler executes one control command and returns the response payload.
type Handler func(ctx context.Context, cmd Command) (map[string]interface{}, error)

// Server answers control commands on a unix domain socket. One connection
// carries one command and one response.
type Server struct {
	socketPath string
	handler    Handler

	mu       sync.Mutex
	listener net.Listener
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewServer prepares a control server. A socket file left behind by a
// crashed daemon is removed so the new instance can bind.
func NewServer(socketPath string, handler Handler) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("control handler is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	return &Server{
		socketPath: socketPath,
		handler:    handler,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start binds the socket and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("control server already running")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to bind control socket: %w", err)
	}
	s.listener = listener
	s.running = true

	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Short accept deadline so the stop channel is observed promptly.
		if ul, ok := s.listener.(*net.UnixListener); ok {
			_ = ul.SetDeadline(time.Now().Add(time.Second))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			fmt.Fprintf(os.Stderr, "warning: control accept failed: %v\n", err)
			continue
		}

		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.reply(conn, Response{Success: false, Error: fmt.Sprintf("malformed command: %v", err)})
		return
	}

	data, err := s.handler(ctx, cmd)
	if err != nil {
		s.reply(conn, Response{Success: false, Error: err.Error()})
		return
	}
	s.reply(conn, Response{
		Success: true,
		Message: fmt.Sprintf("%s ok", cmd.Type),
		Data:    data,
	})
}

func (s *Server) reply(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "warning: control response failed: %v\n", err)
	}
}

// Stop closes the listener, waits for the accept loop, and removes the
// socket file. Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	if err := s.listener.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: control listener close failed: %v\n", err)
	}

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		fmt.Fprintf(os.Stderr, "warning: control server shutdown timed out\n")
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to remove control socket: %v\n", err)
	}
}
