package session

import (
	"strconv"

	"github.com/shiv248/quillsync/internal/engineerr"
	"github.com/shiv248/quillsync/internal/protocol"
	"github.com/shiv248/quillsync/pkg/clock"
	"github.com/shiv248/quillsync/pkg/document"
	"github.com/shiv248/quillsync/pkg/logger"
	"github.com/shiv248/quillsync/pkg/metrics"
)

// dispatch routes one decoded frame to its handler (spec.md §4.4's
// per-message table). Every handler is a boundary for Internal: a panic is
// never allowed to cross it and take the whole session down with it.
func (s *Session) dispatch(f protocol.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("session %s: panic handling %s: %v", s.TempID, f.Kind, rec)
			metrics.FramesRejected.WithLabelValues(engineerr.Internal.String()).Inc()
			s.replyError("internal error")
		}
	}()

	switch f.Kind {
	case protocol.Login:
		s.handleLogin(f)
	case protocol.Register:
		s.handleRegister(f)
	case protocol.Connect:
		s.handleConnect(f)
	case protocol.Disconnect:
		s.close()
	case protocol.FileList:
		s.handleFileList(f)
	case protocol.FileCreate:
		s.handleFileCreate(f)
	case protocol.FileOpen:
		s.handleFileOpen(f)
	case protocol.FileDelete:
		s.handleFileDelete(f)
	case protocol.TextInsert:
		s.handleTextInsert(f)
	case protocol.TextDelete:
		s.handleTextDelete(f)
	case protocol.Save:
		s.handleSave(f)
	default:
		s.replyError("unsupported message kind: " + string(f.Kind))
		metrics.FramesRejected.WithLabelValues(engineerr.MalformedFrame.String()).Inc()
	}
}

func (s *Session) handleLogin(f protocol.Frame) {
	username, password := f.Data["username"], f.Data["password"]
	if username == "" || password == "" {
		s.ack(protocol.LoginAck, protocol.StatusFail, "missing username or password")
		return
	}
	if s.isAuthenticated() {
		s.ack(protocol.LoginAck, protocol.StatusFail, "already authenticated")
		return
	}

	userID, err := s.router.opts.Users.Verify(username, password)
	if err != nil {
		s.ack(protocol.LoginAck, protocol.StatusFail, "invalid credentials")
		return
	}

	s.setAuthenticated(userID, username)
	s.router.registerSession(userID, s)
	logger.Info("session %s: user %s authenticated", s.TempID, username)
	s.ack(protocol.LoginAck, protocol.StatusSuccess, "")
}

func (s *Session) handleRegister(f protocol.Frame) {
	username, password := f.Data["username"], f.Data["password"]
	if username == "" || password == "" {
		s.ack(protocol.RegisterAck, protocol.StatusFail, "missing username or password")
		return
	}

	userID, err := s.router.opts.Users.Register(username, password)
	if err != nil {
		s.ack(protocol.RegisterAck, protocol.StatusFail, err.Error())
		return
	}

	s.setAuthenticated(userID, username)
	s.router.registerSession(userID, s)
	logger.Info("session %s: user %s registered", s.TempID, username)
	s.ack(protocol.RegisterAck, protocol.StatusSuccess, "")
}

// handleConnect only transitions Connecting -> Authenticated without a
// credential check, and only when anonymous_auth is enabled (SPEC_FULL.md's
// Configuration extension to spec.md §4.4's state machine note).
func (s *Session) handleConnect(f protocol.Frame) {
	if !s.router.opts.AnonymousAuth {
		s.replyError("anonymous connect is disabled")
		return
	}
	userID := document.UserID(anonymousUserID())
	s.setAuthenticated(userID, "")
	s.router.registerSession(userID, s)
	_ = s.send(protocol.Frame{Kind: protocol.ConnectAck, UserID: useridString(userID), FileID: protocol.NullToken,
		Data: map[string]string{"status": protocol.StatusSuccess}, Timestamp: nowMillis()})
}

func (s *Session) handleFileList(f protocol.Frame) {
	if !s.requireAuthenticated() {
		return
	}
	rows := s.router.fileList()
	entries := make([]protocol.FileListEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, protocol.FileListEntry{ID: string(r.id), Name: r.name, UserCount: r.userCount})
	}
	_ = s.send(protocol.NewFileListResp(entries, nowMillis()))
}

func (s *Session) handleFileCreate(f protocol.Frame) {
	userID, ok := s.requireAuthenticatedUser()
	if !ok {
		return
	}
	name := f.Data["name"]
	if name == "" {
		s.replyError("missing name")
		return
	}

	d := s.router.createDocument(name, userID)
	d.AddParticipant(userID)
	s.markOpen(d.FileID)

	_ = s.send(protocol.NewFileContent(string(d.FileID), "", []string{s.router.displayName(userID)}, name, nowMillis()))
}

func (s *Session) handleFileOpen(f protocol.Frame) {
	userID, ok := s.requireAuthenticatedUser()
	if !ok {
		return
	}
	if !f.HasFileID() {
		s.replyError("missing file id")
		return
	}
	fileID := document.FileID(f.FileID)

	d, err := s.router.openOrLoadDocument(fileID)
	if err != nil {
		logger.Error("session %s: %v", s.TempID, engineerr.Wrap(engineerr.IoFailure, "loading "+string(fileID), err))
		s.replyError("failed to load document")
		return
	}
	if d == nil {
		s.replyError("file not found")
		return
	}

	d.AddParticipant(userID)
	s.markOpen(fileID)

	snap := d.Copy()
	participants := make([]string, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		participants = append(participants, s.router.displayName(p))
	}
	_ = s.send(protocol.NewFileContent(string(fileID), snap.Content, participants, snap.FileName, nowMillis()))
}

func (s *Session) handleFileDelete(f protocol.Frame) {
	if !s.requireAuthenticated() {
		return
	}
	if !f.HasFileID() {
		s.replyError("missing file id")
		return
	}
	fileID := document.FileID(f.FileID)

	d, ok := s.router.lookupDocument(fileID)
	if !ok {
		s.replyError("file not found")
		return
	}
	if d.ParticipantCount() > 1 {
		s.ack(protocol.FileDeleteAck, protocol.StatusFail, "file has other participants")
		return
	}

	if err := s.router.deleteDocument(fileID); err != nil {
		logger.Error("session %s: %v", s.TempID, engineerr.Wrap(engineerr.IoFailure, "deleting "+string(fileID), err))
		s.ack(protocol.FileDeleteAck, protocol.StatusFail, "delete failed")
		return
	}
	s.markClosed(fileID)
	s.ack(protocol.FileDeleteAck, protocol.StatusSuccess, "")
}

func (s *Session) handleTextInsert(f protocol.Frame) {
	userID, fileID, ok := s.requireOpenFile(f)
	if !ok {
		return
	}
	position, err := parseUint(f.Data["position"])
	if err != nil {
		s.replyError("invalid position")
		return
	}
	text, hasText := f.Data["text"]
	if !hasText {
		s.replyError("missing text")
		return
	}
	if len([]rune(text)) > s.limits.MaxInsertLen {
		s.replyError("insert exceeds max_insert_len")
		return
	}

	d, ok := s.router.lookupDocument(fileID)
	if !ok {
		s.replyError("file not open")
		return
	}

	result, err := d.Insert(position, text, document.UserID(userID))
	if err != nil {
		logger.Error("session %s: insert on %s: %v", s.TempID, fileID, err)
		s.replyError("operation rejected")
		return
	}
	if !result.Success {
		return
	}

	metrics.OperationsApplied.WithLabelValues(clock.Insert.String()).Inc()
	s.router.recordAudit(fileID, result.Op)

	update := protocol.NewTextUpdate(string(fileID), useridString(userID), "insert", result.Position, text, nowMillis())
	s.router.broadcastTextUpdate(fileID, userID, update)
}

func (s *Session) handleTextDelete(f protocol.Frame) {
	userID, fileID, ok := s.requireOpenFile(f)
	if !ok {
		return
	}
	position, err := parseUint(f.Data["position"])
	if err != nil {
		s.replyError("invalid position")
		return
	}
	length, err := parseUint(f.Data["length"])
	if err != nil {
		s.replyError("invalid length")
		return
	}

	d, ok := s.router.lookupDocument(fileID)
	if !ok {
		s.replyError("file not open")
		return
	}

	result, err := d.Delete(position, length, document.UserID(userID))
	if err != nil {
		logger.Error("session %s: delete on %s: %v", s.TempID, fileID, err)
		s.replyError("operation rejected")
		return
	}
	if !result.Success {
		metrics.OperationsDropped.WithLabelValues(clock.Delete.String()).Inc()
		return
	}

	metrics.OperationsApplied.WithLabelValues(clock.Delete.String()).Inc()
	s.router.recordAudit(fileID, result.Op)

	update := protocol.NewTextUpdate(string(fileID), useridString(userID), "delete", result.Position, strconv.FormatUint(uint64(result.Length), 10), nowMillis())
	s.router.broadcastTextUpdate(fileID, userID, update)
}

func (s *Session) handleSave(f protocol.Frame) {
	_, fileID, ok := s.requireOpenFile(f)
	if !ok {
		return
	}
	d, ok := s.router.lookupDocument(fileID)
	if !ok {
		s.ack(protocol.Save, protocol.StatusFail, "file not open")
		return
	}
	if err := s.router.persistDocument(d); err != nil {
		logger.Error("session %s: %v", s.TempID, engineerr.Wrap(engineerr.IoFailure, "saving "+string(fileID), err))
		s.ack(protocol.Save, protocol.StatusFail, "save failed")
		return
	}
	s.ack(protocol.Save, protocol.StatusSuccess, "")
}

// requireAuthenticated replies AuthRequired and returns false for a session
// still in Connecting (spec.md §8 invariant 7).
func (s *Session) requireAuthenticated() bool {
	if s.isAuthenticated() {
		return true
	}
	s.replyError("authentication required")
	metrics.FramesRejected.WithLabelValues(engineerr.AuthRequired.String()).Inc()
	return false
}

func (s *Session) requireAuthenticatedUser() (document.UserID, bool) {
	userID, authenticated := s.currentUserID()
	if !authenticated {
		s.replyError("authentication required")
		metrics.FramesRejected.WithLabelValues(engineerr.AuthRequired.String()).Inc()
		return 0, false
	}
	return userID, true
}

// requireOpenFile checks authentication, a present FileId, and that it is
// in this session's open_files (spec.md §7 NotOpen).
func (s *Session) requireOpenFile(f protocol.Frame) (document.UserID, document.FileID, bool) {
	userID, ok := s.requireAuthenticatedUser()
	if !ok {
		return 0, "", false
	}
	if !f.HasFileID() {
		s.replyError("missing file id")
		return 0, "", false
	}
	fileID := document.FileID(f.FileID)
	if !s.hasOpen(fileID) {
		s.replyError("file not open")
		metrics.FramesRejected.WithLabelValues(engineerr.NotOpen.String()).Inc()
		return 0, "", false
	}
	return userID, fileID, true
}

func (s *Session) ack(kind protocol.Kind, status, message string) {
	_ = s.send(protocol.NewAck(kind, status, message, nowMillis()))
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

func useridString(id document.UserID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// anonymousUserID mints a UserId for an anonymous CONNECT. It draws from
// the same logical clock the engine uses for operations, which is unique
// per process and monotonically increasing — adequate for a space that
// never persists across restarts.
func anonymousUserID() uint64 {
	return clock.NextLogicalClock() | 1<<62
}
