package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// SocketPath is the agent's IPC endpoint.
const SocketPath = "/tmp/moonstone.sock"

// Single-byte IPC opcodes.
const (
	OpHeartbeat        byte = 0x01
	OpShutdown         byte = 0x02
	OpStatus           byte = 0x03
	OpEmergencyDisable byte = 0x04
)

const (
	// HeartbeatInterval is the watchdog's send cadence.
	HeartbeatInterval = 500 * time.Millisecond

	// HeartbeatFailureLimit consecutive failures declare tamper.
	HeartbeatFailureLimit = 4
)

// ErrHeartbeatMissed is returned by the heartbeat loop when the agent
// stops answering.
var ErrHeartbeatMissed = errors.New("daemon not responding")

// IPCServer accepts single-opcode connections from the watchdog and
// CLI.
type IPCServer struct {
	listener net.Listener
	logger   *logrus.Entry
}

// NewIPCServer binds the unix socket, unlinking a stale one first.
func NewIPCServer(logger *logrus.Entry) (*IPCServer, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	_ = os.Remove(SocketPath)
	listener, err := net.Listen("unix", SocketPath)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", SocketPath, err)
	}
	logger.WithField("socket", SocketPath).Info("ipc listening")
	return &IPCServer{listener: listener, logger: logger}, nil
}

// Serve accepts connections until ctx is cancelled, invoking handle
// for each received opcode. Heartbeats are answered by the accept
// itself, so handle typically ignores OpHeartbeat.
func (s *IPCServer) Serve(ctx context.Context, handle func(op byte)) {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Warn("ipc accept")
			continue
		}
		go func(conn net.Conn) {
			defer conn.Close()
			conn.SetReadDeadline(time.Now().Add(time.Second))
			buf := make([]byte, 1)
			if _, err := conn.Read(buf); err != nil {
				return
			}
			switch buf[0] {
			case OpHeartbeat, OpShutdown, OpStatus, OpEmergencyDisable:
				handle(buf[0])
			default:
				s.logger.WithField("opcode", fmt.Sprintf("0x%02x", buf[0])).Debug("unknown ipc opcode")
			}
		}(conn)
	}
}

// Close unlinks the socket.
func (s *IPCServer) Close() {
	s.listener.Close()
	_ = os.Remove(SocketPath)
}

// SendOp connects to the agent and delivers one opcode.
func SendOp(op byte) error {
	conn, err := net.DialTimeout("unix", SocketPath, time.Second)
	if err != nil {
		return fmt.Errorf("connecting to agent: %w", err)
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := conn.Write([]byte{op}); err != nil {
		return fmt.Errorf("sending opcode: %w", err)
	}
	return nil
}

// DaemonRunning reports whether the agent answers on its socket.
func DaemonRunning() bool {
	return SendOp(OpStatus) == nil
}

// HeartbeatLoop sends a heartbeat every interval until ctx is
// cancelled or HeartbeatFailureLimit consecutive sends fail, in which
// case ErrHeartbeatMissed is returned. send is injectable for tests;
// pass nil for the real socket.
func HeartbeatLoop(ctx context.Context, logger *logrus.Entry, send func() error) error {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if send == nil {
		send = func() error { return SendOp(OpHeartbeat) }
	}

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := send(); err != nil {
				failures++
				logger.WithError(err).Warnf("heartbeat failed (%d/%d)", failures, HeartbeatFailureLimit)
				if failures >= HeartbeatFailureLimit {
					return ErrHeartbeatMissed
				}
				continue
			}
			failures = 0
		}
	}
}
