// Package document implements the per-document authoritative state: text
// content, a bounded operation history, and the participant set, all
// guarded by a single exclusive lock per spec.md §5.
package document

import (
	"sync"
	"time"

	"github.com/shiv248/quillsync/pkg/clock"
	"github.com/shiv248/quillsync/pkg/metrics"
	"github.com/shiv248/quillsync/pkg/ot"
)

// FileID identifies a document.
type FileID string

// UserID identifies an authenticated user.
type UserID uint64

// AppliedResult reports where and how much an edit actually landed after
// clamping and transformation. Downstream broadcast must use Position and
// Length, never the caller's submitted values — both can diverge from what
// was submitted once the op has been transformed against concurrent history.
type AppliedResult struct {
	Success  bool
	Position uint32
	Length   uint32
	Op       clock.Operation
}

// history is a bounded FIFO of Operation, oldest dropped on overflow.
type history struct {
	buf      []clock.Operation
	capacity int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]clock.Operation, 0, capacity), capacity: capacity}
}

func (h *history) append(op clock.Operation) {
	h.buf = append(h.buf, op)
	if len(h.buf) > h.capacity {
		evicted := len(h.buf) - h.capacity
		h.buf = h.buf[evicted:]
		metrics.HistoryEvictions.Add(float64(evicted))
	}
}

// recent returns at most k newest entries, in history order.
func (h *history) recent(k int) []clock.Operation {
	if k <= 0 || len(h.buf) == 0 {
		return nil
	}
	if k > len(h.buf) {
		k = len(h.buf)
	}
	out := make([]clock.Operation, k)
	copy(out, h.buf[len(h.buf)-k:])
	return out
}

func (h *history) all() []clock.Operation {
	out := make([]clock.Operation, len(h.buf))
	copy(out, h.buf)
	return out
}

// Document is the authoritative state for one collaboratively-edited file.
// All mutation — Insert, Delete, participant changes, Copy — holds mu for
// its entire duration. recent_ops-style reads may take the read-mode lock.
type Document struct {
	mu sync.RWMutex

	FileID       FileID
	FileName     string
	Creator      UserID
	content      []rune
	lastModified time.Time
	dirty        bool

	history      *history
	participants map[UserID]struct{}

	// TransformWindowInsert and TransformWindowDelete are the history
	// horizons (k in spec.md §4.3) new INSERT and DELETE operations are
	// transformed against. The spec records an asymmetric default
	// (k<=3 for INSERT, k=20 for DELETE) as an intentional latency/
	// convergence trade-off, not an oversight.
	TransformWindowInsert int
	TransformWindowDelete int
}

// Config bundles the tunables a Document needs at creation time.
type Config struct {
	HistoryCapacity       int
	TransformWindowInsert int
	TransformWindowDelete int
}

// DefaultConfig mirrors spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity:       100,
		TransformWindowInsert: 3,
		TransformWindowDelete: 20,
	}
}

// New creates an empty Document.
func New(id FileID, name string, creator UserID, cfg Config) *Document {
	return &Document{
		FileID:                id,
		FileName:              name,
		Creator:               creator,
		content:               nil,
		history:               newHistory(cfg.HistoryCapacity),
		participants:          make(map[UserID]struct{}),
		TransformWindowInsert: cfg.TransformWindowInsert,
		TransformWindowDelete: cfg.TransformWindowDelete,
	}
}

// Restore creates a Document preloaded with persisted content, for a file
// loaded from the external document store. The loaded text is not itself an
// Operation in history — it predates the engine's clock — matching
// spec.md's framing that history only ever holds operations applied
// through the engine since the document was brought into memory.
func Restore(id FileID, name string, creator UserID, content string, cfg Config) *Document {
	d := New(id, name, creator, cfg)
	d.content = []rune(content)
	return d
}

// Text returns the current document text (read-locked).
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return string(d.content)
}

// Len returns the current rune length of the content.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.content)
}

// Dirty reports whether the document has unpersisted mutations.
func (d *Document) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirty
}

// MarkSaved clears the dirty flag; called by the external persistence
// collaborator after a successful save.
func (d *Document) MarkSaved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = false
}

// LastModified returns the time of the most recent applied mutation.
func (d *Document) LastModified() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastModified
}

// Insert applies a clamped INSERT from author at position, transforming it
// against the last TransformWindowInsert history entries first.
func (d *Document) Insert(position uint32, text string, author UserID) (AppliedResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := uint32(len(d.content))
	if position > n {
		position = n
	}

	op := clock.NewInsert(position, text, uint64(author))
	transformed := d.transformLocked(op, d.TransformWindowInsert)

	newText, applied, err := ot.Apply(string(d.content), transformed)
	if err != nil {
		return AppliedResult{}, err
	}

	d.content = []rune(newText)
	finalOp := transformed.WithPosition(applied)
	d.history.append(finalOp)
	d.dirty = true
	d.lastModified = time.Now()

	return AppliedResult{Success: true, Position: applied, Length: finalOp.PayloadLength(), Op: finalOp}, nil
}

// Delete applies a clamped DELETE from author, transforming it against the
// last TransformWindowDelete history entries first. A zero-length result
// (fully subsumed by concurrent history) is dropped and reported as
// unsuccessful, not an error.
//
// The length submitted by the caller is deliberately left unclamped going
// into the transform: clamping it against the document's current length
// beforehand would silently rewrite the op in the client's stale coordinate
// frame and starve transformDeleteDelete of the overlap it needs to compute
// correctly (e.g. a submitted delete that reaches past a concurrently
// applied delete's tail). Only the position is pre-clamped. Clamping against
// the document's actual bounds happens once, after the transform, against
// whatever position/length the transform produced.
func (d *Document) Delete(position uint32, length uint32, author UserID) (AppliedResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := uint32(len(d.content))
	if n == 0 {
		return AppliedResult{Success: false}, nil
	}
	if position >= n {
		position = n - 1
	}
	if length == 0 {
		length = 1
	}

	op := clock.NewDelete(position, length, uint64(author))
	transformed := d.transformLocked(op, d.TransformWindowDelete)

	if transformed.Length == 0 {
		return AppliedResult{Success: false}, nil
	}

	if transformed.Position >= n {
		return AppliedResult{Success: false}, nil
	}
	if maxLen := n - transformed.Position; transformed.Length > maxLen {
		transformed = transformed.WithLength(maxLen)
	}

	newText, applied, err := ot.Apply(string(d.content), transformed)
	if err != nil {
		return AppliedResult{}, err
	}

	d.content = []rune(newText)
	finalOp := transformed.WithPosition(applied)
	d.history.append(finalOp)
	d.dirty = true
	d.lastModified = time.Now()

	return AppliedResult{Success: true, Position: applied, Length: finalOp.Length, Op: finalOp}, nil
}

// transformLocked folds op through the last window history entries. Caller
// must hold mu.
func (d *Document) transformLocked(op clock.Operation, window int) clock.Operation {
	recent := d.history.recent(window)
	transformed := op
	for _, histOp := range recent {
		transformed = ot.Transform(transformed, histOp)
		if transformed.Kind == clock.Delete && transformed.Length == 0 {
			break
		}
	}
	return transformed
}

// RecentOps returns at most k newest history entries, in history order.
func (d *Document) RecentOps(k int) []clock.Operation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.history.recent(k)
}

// AllOps returns the full bounded history, in history order.
func (d *Document) AllOps() []clock.Operation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.history.all()
}

// AddParticipant records user as holding this document open.
func (d *Document) AddParticipant(user UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.participants[user] = struct{}{}
}

// RemoveParticipant removes user from the participant set, returning the
// remaining participant count.
func (d *Document) RemoveParticipant(user UserID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.participants, user)
	return len(d.participants)
}

// Participants returns a snapshot of the current participant set.
func (d *Document) Participants() []UserID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]UserID, 0, len(d.participants))
	for u := range d.participants {
		out = append(out, u)
	}
	return out
}

// ParticipantCount returns the number of users currently holding this
// document open.
func (d *Document) ParticipantCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.participants)
}

// Snapshot is an immutable copy of a Document's visible state, handed to a
// Session without holding the document lock for the duration of a socket
// write.
type Snapshot struct {
	FileID       FileID
	FileName     string
	Content      string
	Participants []UserID
}

// Copy produces a Snapshot with no shared mutable state.
func (d *Document) Copy() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	participants := make([]UserID, 0, len(d.participants))
	for u := range d.participants {
		participants = append(participants, u)
	}
	return Snapshot{
		FileID:       d.FileID,
		FileName:     d.FileName,
		Content:      string(d.content),
		Participants: participants,
	}
}
