package ot

import (
	"fmt"

	"github.com/shiv248/quillsync/pkg/clock"
)

// ErrRejected signals that a DELETE could not be placed even after
// clamping — the engine never clamps DELETE away, it rejects. INSERT never
// returns this error; see Apply.
type ErrRejected struct {
	Op     clock.Operation
	Reason string
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("operation rejected: %s (kind=%s position=%d length=%d)",
		e.Reason, e.Op.Kind, e.Op.Position, e.Op.Length)
}

// Apply applies op to text, returning the resulting text and the position
// actually used (relevant for INSERT, whose position is clamped). INSERT
// always succeeds: a stale client position is repaired by clamping into
// [0, len(text)] rather than rejected, per spec.md §4.2 — a committed edit
// must never be rejected for describing a position the author no longer
// has an accurate view of. DELETE is rejected if, after the caller's own
// clamping (see document package), position or length still fail to
// describe a valid range; this should not happen given correct clamping
// upstream and exists as a defensive boundary.
func Apply(text string, op clock.Operation) (result string, appliedPosition uint32, err error) {
	runes := []rune(text)
	n := uint32(len(runes))

	switch op.Kind {
	case clock.Insert:
		pos := op.Position
		if pos > n {
			pos = n
		}
		out := make([]rune, 0, n+op.PayloadLength())
		out = append(out, runes[:pos]...)
		out = append(out, []rune(op.Payload)...)
		out = append(out, runes[pos:]...)
		return string(out), pos, nil

	case clock.Delete:
		if op.Length == 0 {
			return text, op.Position, nil
		}
		if op.Position > n || op.Position+op.Length > n {
			return "", 0, &ErrRejected{Op: op, Reason: "delete range out of bounds"}
		}
		out := make([]rune, 0, n-op.Length)
		out = append(out, runes[:op.Position]...)
		out = append(out, runes[op.Position+op.Length:]...)
		return string(out), op.Position, nil
	}

	return "", 0, &ErrRejected{Op: op, Reason: "unknown operation kind"}
}
