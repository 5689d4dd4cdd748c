package session

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiv248/quillsync/internal/protocol"
	"github.com/shiv248/quillsync/pkg/audit"
	"github.com/shiv248/quillsync/pkg/clock"
	"github.com/shiv248/quillsync/pkg/document"
	"github.com/shiv248/quillsync/pkg/logger"
	"github.com/shiv248/quillsync/pkg/metrics"
)

// Users is the credential-check interface the router consumes from the
// external collaborator (spec.md §1); pkg/userstore satisfies it.
type Users interface {
	Verify(username, password string) (document.UserID, error)
	Register(username, password string) (document.UserID, error)
	Username(id document.UserID) (string, bool)
}

// Docs is the on-disk document store interface the router consumes from
// the external collaborator (spec.md §1); pkg/docstore satisfies it.
type Docs interface {
	Load(fileID string) (content []byte, name string, found bool, err error)
	Save(fileID, name string, content []byte) error
	Delete(fileID string) error
}

// Options bundles the router's collaborators and tunables.
type Options struct {
	Users          Users
	Docs           Docs
	Audit          *audit.Log // nil disables audit logging
	DocumentConfig document.Config
	Limits         protocol.Limits
	ReadTimeout    time.Duration
	MaxConnections int
	AnonymousAuth  bool
}

// Router holds the two global concurrent tables spec.md §3 names:
// documents (file_id -> Document) and sessions (user_id -> Session).
type Router struct {
	opts Options

	docsMu    sync.RWMutex
	documents map[document.FileID]*document.Document
	docNames  map[document.FileID]string

	sessMu   sync.RWMutex
	sessions map[document.UserID]*Session

	connMu    sync.Mutex
	connCount int
}

// New creates a Router ready to accept connections.
func New(opts Options) *Router {
	return &Router{
		opts:      opts,
		documents: make(map[document.FileID]*document.Document),
		docNames:  make(map[document.FileID]string),
		sessions:  make(map[document.UserID]*Session),
	}
}

// Accept runs the TCP accept loop: one worker goroutine per connection
// (spec.md §5's parallel-thread model), enforcing max_connections.
func (r *Router) Accept(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		r.connMu.Lock()
		if r.opts.MaxConnections > 0 && r.connCount >= r.opts.MaxConnections {
			r.connMu.Unlock()
			logger.Warn("router: rejecting connection from %s, at max_connections %d", conn.RemoteAddr(), r.opts.MaxConnections)
			conn.Close()
			continue
		}
		r.connCount++
		r.connMu.Unlock()

		tempID := generateTempID()
		sess := newSession(conn, r, r.opts.ReadTimeout, r.opts.Limits, tempID)

		go func() {
			defer func() {
				r.connMu.Lock()
				r.connCount--
				r.connMu.Unlock()
			}()
			sess.Serve()
		}()
	}
}

// displayName resolves a UserID to the username the credential store knows
// it by, falling back to the numeric id for a user the store has no record
// of (anonymous CONNECT sessions never register one).
func (r *Router) displayName(id document.UserID) string {
	if name, ok := r.opts.Users.Username(id); ok {
		return name
	}
	return useridString(id)
}

// lookupDocument returns the in-memory Document for id, if resident.
func (r *Router) lookupDocument(id document.FileID) (*document.Document, bool) {
	r.docsMu.RLock()
	defer r.docsMu.RUnlock()
	d, ok := r.documents[id]
	return d, ok
}

// createDocument creates and registers a new empty Document, returning it
// under a freshly minted FileID.
func (r *Router) createDocument(name string, creator document.UserID) *document.Document {
	id := document.FileID(uuid.NewString())
	d := document.New(id, name, creator, r.opts.DocumentConfig)

	r.docsMu.Lock()
	r.documents[id] = d
	r.docNames[id] = name
	r.docsMu.Unlock()

	metrics.DocumentsOpen.Inc()
	return d
}

// openOrLoadDocument resolves id to a resident Document, loading it from
// the external document store on a cold miss. Returns (nil, nil) if id is
// unknown to both memory and the store.
func (r *Router) openOrLoadDocument(id document.FileID) (*document.Document, error) {
	if d, ok := r.lookupDocument(id); ok {
		return d, nil
	}

	content, name, found, err := r.opts.Docs.Load(string(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	r.docsMu.Lock()
	defer r.docsMu.Unlock()
	// Re-check: another session may have loaded it while we were on disk.
	if d, ok := r.documents[id]; ok {
		return d, nil
	}
	d := document.Restore(id, name, 0, string(content), r.opts.DocumentConfig)
	r.documents[id] = d
	r.docNames[id] = name
	metrics.DocumentsOpen.Inc()
	return d, nil
}

type fileListRow struct {
	id        document.FileID
	name      string
	userCount int
}

// fileList snapshots the document table for FILE_LIST.
func (r *Router) fileList() []fileListRow {
	r.docsMu.RLock()
	defer r.docsMu.RUnlock()
	out := make([]fileListRow, 0, len(r.documents))
	for id, d := range r.documents {
		out = append(out, fileListRow{id: id, name: r.docNames[id], userCount: d.ParticipantCount()})
	}
	return out
}

// deleteDocument evicts id from memory and erases its on-disk blob. Caller
// has already checked participant count.
func (r *Router) deleteDocument(id document.FileID) error {
	r.docsMu.Lock()
	delete(r.documents, id)
	delete(r.docNames, id)
	r.docsMu.Unlock()

	metrics.DocumentsOpen.Dec()
	return r.opts.Docs.Delete(string(id))
}

// closeDocumentFor removes sess's participation in fileID. If it was the
// last participant, the document is persisted and evicted immediately
// (spec.md §4.4 "Auto-save").
func (r *Router) closeDocumentFor(sess *Session, fileID document.FileID) {
	d, ok := r.lookupDocument(fileID)
	if !ok {
		return
	}
	userID, authenticated := sess.currentUserID()
	if !authenticated {
		return
	}
	remaining := d.RemoveParticipant(userID)
	if remaining > 0 {
		return
	}
	if err := r.persistDocument(d); err != nil {
		logger.Error("router: persisting %s on last-participant-leave: %v", fileID, err)
	}
	r.docsMu.Lock()
	delete(r.documents, fileID)
	delete(r.docNames, fileID)
	r.docsMu.Unlock()
	metrics.DocumentsOpen.Dec()
}

// persistDocument saves a document's current content via the external
// store and clears its dirty flag on success.
func (r *Router) persistDocument(d *document.Document) error {
	snap := d.Copy()
	if err := r.opts.Docs.Save(string(snap.FileID), snap.FileName, []byte(snap.Content)); err != nil {
		return err
	}
	d.MarkSaved()
	return nil
}

// recordAudit appends op to the audit log, if one is configured. Failures
// are logged, never surfaced to the client — the audit log is a
// crash-recovery aid, not part of the client-visible contract.
func (r *Router) recordAudit(fileID document.FileID, op clock.Operation) {
	if r.opts.Audit == nil {
		return
	}
	if err := r.opts.Audit.Append(string(fileID), op); err != nil {
		logger.Error("router: audit append for %s: %v", fileID, err)
	}
}

// registerSession records sess under userID, replacing any prior session
// for that user (spec.md §3 models one Session per active UserId).
func (r *Router) registerSession(userID document.UserID, sess *Session) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	r.sessions[userID] = sess
}

func (r *Router) unregisterSession(userID document.UserID, sess *Session) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	if cur, ok := r.sessions[userID]; ok && cur == sess {
		delete(r.sessions, userID)
	}
}

// broadcastTextUpdate fans a canonical TEXT_UPDATE out to every other
// session holding fileID open (spec.md §4.4; invariant 6 in §8: no session
// receives its own broadcast). Never called while holding a document lock.
func (r *Router) broadcastTextUpdate(fileID document.FileID, originator document.UserID, frame protocol.Frame) {
	r.sessMu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for uid, sess := range r.sessions {
		if uid == originator {
			continue
		}
		if sess.hasOpen(fileID) {
			targets = append(targets, sess)
		}
	}
	r.sessMu.RUnlock()

	for _, sess := range targets {
		if err := sess.send(frame); err != nil {
			logger.Warn("router: broadcast to session %s failed: %v", sess.TempID, err)
		}
	}
}

// AutoSaveAll walks the documents table once, persisting every dirty
// document. Used by both the periodic scheduler and graceful shutdown
// (spec.md §4.4, §5).
func (r *Router) AutoSaveAll() {
	r.docsMu.RLock()
	docs := make([]*document.Document, 0, len(r.documents))
	for _, d := range r.documents {
		docs = append(docs, d)
	}
	r.docsMu.RUnlock()

	for _, d := range docs {
		if !d.Dirty() {
			continue
		}
		if err := r.persistDocument(d); err != nil {
			logger.Error("router: auto-save of %s failed: %v", d.FileID, err)
		}
	}
}

// RunAutoSave blocks, persisting dirty documents every interval, until stop
// is closed. One periodic task per spec.md §4.4.
func (r *Router) RunAutoSave(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.AutoSaveAll()
		}
	}
}
