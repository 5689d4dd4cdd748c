// Package session implements the per-connection state machine and the
// router that dispatches decoded frames to document operations and fans
// canonical updates back out (spec.md §4.4).
package session

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shiv248/quillsync/internal/engineerr"
	"github.com/shiv248/quillsync/internal/protocol"
	"github.com/shiv248/quillsync/pkg/document"
	"github.com/shiv248/quillsync/pkg/logger"
	"github.com/shiv248/quillsync/pkg/metrics"
)

// State is a session's position in the Connecting -> Authenticated ->
// Closing state machine (spec.md §4.4). Closing is terminal and idempotent.
type State int

const (
	Connecting State = iota
	Authenticated
	Closing
)

// Session is one client connection: a socket, a state machine, and the set
// of documents it currently holds open. A Session never holds a direct
// Document reference — only FileIds, resolved through the Router (spec.md
// §3, §9 "Ownership & cycles").
type Session struct {
	conn        net.Conn
	router      *Router
	readTimeout time.Duration
	limits      protocol.Limits

	TempID string

	mu            sync.Mutex // guards state, userID, username, openFiles
	state         State
	userID        document.UserID
	username      string
	openFiles     map[document.FileID]struct{}

	sendMu sync.Mutex // serializes writes; never held across a blocking read
	w      *bufio.Writer

	connected atomic.Bool
}

func newSession(conn net.Conn, router *Router, readTimeout time.Duration, limits protocol.Limits, tempID string) *Session {
	s := &Session{
		conn:        conn,
		router:      router,
		readTimeout: readTimeout,
		limits:      limits,
		TempID:      tempID,
		state:       Connecting,
		openFiles:   make(map[document.FileID]struct{}),
		w:           bufio.NewWriter(conn),
	}
	s.connected.Store(true)
	return s
}

// Serve runs the session's read loop until the connection closes or a
// fatal I/O error occurs. Cleanup always runs, mirroring the teacher's
// deferred cleanup around its WebSocket read loop.
func (s *Session) Serve() {
	defer s.close()

	logger.Info("session %s: connected from %s", s.TempID, s.conn.RemoteAddr())
	metrics.SessionsConnected.Inc()
	defer metrics.SessionsConnected.Dec()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 64*1024), s.limits.MaxFrameBytes)

	for s.connected.Load() {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if len(line) > s.limits.MaxFrameBytes {
			s.replyError("frame exceeds max_frame_bytes")
			metrics.FramesRejected.WithLabelValues(engineerr.MalformedFrame.String()).Inc()
			continue
		}

		frame, err := protocol.Decode(line)
		if err != nil {
			s.replyError(err.Error())
			metrics.FramesRejected.WithLabelValues(engineerr.MalformedFrame.String()).Inc()
			continue
		}

		s.dispatch(frame)
	}
}

// send writes one frame to the socket. Never call while holding a document
// lock (spec.md §5).
func (s *Session) send(f protocol.Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	line, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *Session) replyError(message string) {
	_ = s.send(protocol.NewError(message, nowMillis()))
}

// setAuthenticated transitions Connecting -> Authenticated, assigning the
// stable UserId. Returns false if the session was not in Connecting.
func (s *Session) setAuthenticated(userID document.UserID, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connecting {
		return false
	}
	s.state = Authenticated
	s.userID = userID
	s.username = username
	return true
}

func (s *Session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Authenticated
}

func (s *Session) currentUserID() (document.UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.state == Authenticated
}

func (s *Session) hasOpen(id document.FileID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.openFiles[id]
	return ok
}

func (s *Session) markOpen(id document.FileID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openFiles[id] = struct{}{}
}

func (s *Session) markClosed(id document.FileID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.openFiles, id)
}

// openFileIDs returns a snapshot of the files this session currently holds
// open, for cleanup on disconnect.
func (s *Session) openFileIDs() []document.FileID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]document.FileID, 0, len(s.openFiles))
	for id := range s.openFiles {
		out = append(out, id)
	}
	return out
}

// close transitions the session to Closing (idempotent), closes the
// socket, and unregisters it from the router, closing every file it held
// open (spec.md §3, Session lifecycle).
func (s *Session) close() {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	wasAuthenticated := s.state == Authenticated
	s.state = Closing
	userID := s.userID
	s.mu.Unlock()

	_ = s.conn.Close()

	for _, fileID := range s.openFileIDs() {
		s.router.closeDocumentFor(s, fileID)
	}

	if wasAuthenticated {
		s.router.unregisterSession(userID, s)
	}

	logger.Info("session %s: disconnected", s.TempID)
}

func nowMillis() uint64 { return uint64(time.Now().UnixMilli()) }
