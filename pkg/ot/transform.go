// Package ot implements the pairwise and batch operational transform rules
// for the collaboration engine, and the application of an Operation to a
// text buffer.
//
// The transform rules below are position/length based rather than the
// Retain/Insert/Delete-sequence style OpSeq the teacher project used for
// its WebSocket protocol — the wire protocol this repository speaks is a
// plain key-value line frame (see internal/protocol), so transforms operate
// directly on clock.Operation values keyed by Position and Length.
package ot

import (
	"sort"

	"github.com/shiv248/quillsync/pkg/clock"
)

// Transform produces client' = transform(clientOp, serverOp), where
// serverOp is already part of the authoritative history clientOp has not
// seen. The contract is the classic TP1 convergence property: applying
// (serverOp, client') in that order reaches the same text as applying
// (clientOp, transform(serverOp, clientOp)) in that order, for two ops drawn
// from the same starting state.
func Transform(clientOp, serverOp clock.Operation) clock.Operation {
	// Same author: operations from one connection arrive in order over one
	// stream, so they cannot conflict with themselves.
	if clientOp.Author == serverOp.Author {
		return clientOp
	}

	switch {
	case clientOp.Kind == clock.Insert && serverOp.Kind == clock.Insert:
		return transformInsertInsert(clientOp, serverOp)
	case clientOp.Kind == clock.Insert && serverOp.Kind == clock.Delete:
		return transformInsertDelete(clientOp, serverOp)
	case clientOp.Kind == clock.Delete && serverOp.Kind == clock.Insert:
		return transformDeleteInsert(clientOp, serverOp)
	default: // Delete vs Delete
		return transformDeleteDelete(clientOp, serverOp)
	}
}

// serverWinsTie applies the priority rule from spec.md §4.2: server wins a
// tie when it has the lower logical clock, or on equal clocks the lower
// site id, or on equal sites the earlier wall time. "Wins" means the other
// operation is shifted past it.
func serverWinsTie(clientOp, serverOp clock.Operation) bool {
	if serverOp.LogicalClock != clientOp.LogicalClock {
		return serverOp.LogicalClock < clientOp.LogicalClock
	}
	if serverOp.SiteID != clientOp.SiteID {
		return serverOp.SiteID < clientOp.SiteID
	}
	return serverOp.WallTime < clientOp.WallTime
}

func transformInsertInsert(clientOp, serverOp clock.Operation) clock.Operation {
	switch {
	case serverOp.Position < clientOp.Position:
		return clientOp.WithPosition(clientOp.Position + serverOp.PayloadLength())
	case serverOp.Position > clientOp.Position:
		return clientOp
	default:
		if serverWinsTie(clientOp, serverOp) {
			return clientOp.WithPosition(clientOp.Position + serverOp.PayloadLength())
		}
		return clientOp
	}
}

// transformInsertDelete transforms client INSERT against server DELETE of
// the range [p, p+L).
func transformInsertDelete(clientOp, serverOp clock.Operation) clock.Operation {
	p := serverOp.Position
	l := serverOp.Length
	switch {
	case clientOp.Position <= p:
		return clientOp
	case clientOp.Position >= p+l:
		return clientOp.WithPosition(clientOp.Position - l)
	default:
		// The insert fell inside the deleted range; clamp it to the start
		// of that range.
		return clientOp.WithPosition(p)
	}
}

// transformDeleteInsert transforms client DELETE against server INSERT at q.
func transformDeleteInsert(clientOp, serverOp clock.Operation) clock.Operation {
	q := serverOp.Position
	insertLen := serverOp.PayloadLength()
	switch {
	case q <= clientOp.Position:
		return clientOp.WithPosition(clientOp.Position + insertLen)
	case q >= clientOp.Position+clientOp.Length:
		return clientOp
	default:
		// The insert landed inside the deletion range; extend the deletion
		// to swallow the newly inserted text too (a pragmatic
		// intention-preservation choice — see spec.md §9).
		return clientOp.WithLength(clientOp.Length + insertLen)
	}
}

// transformDeleteDelete transforms client DELETE [cp, cp+cl) against server
// DELETE [sp, sp+sl).
func transformDeleteDelete(clientOp, serverOp clock.Operation) clock.Operation {
	cp, cl := clientOp.Position, clientOp.Length
	sp, sl := serverOp.Position, serverOp.Length

	switch {
	case sp+sl <= cp: // server range entirely precedes client range
		return clientOp.WithPosition(cp - sl)
	case sp >= cp+cl: // server range entirely follows client range
		return clientOp
	}

	overlapEnd := min32(cp+cl, sp+sl)
	overlapStart := max32(cp, sp)
	overlap := overlapEnd - overlapStart

	if overlap >= cl {
		// Client deletion fully subsumed by the already-applied server
		// deletion; the engine discards zero-length deletes.
		return clientOp.WithLength(0)
	}
	if cp < sp {
		// Client keeps its head; the tail that overlapped is already gone.
		return clientOp.WithLength(sp - cp)
	}
	// sp <= cp: reposition to the server range's start and shrink by the
	// overlap.
	return clientOp.WithPosition(sp).WithLength(cl - overlap)
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// BatchTransform transforms every clientOp against every op in serverOps, in
// serverOps' logical-clock order, folding each client op through the whole
// server list. A client op whose fold produces a zero-length DELETE is
// dropped from the result. The transformed client op is appended to a local
// copy of the server history as it goes, so later client ops in the same
// batch are transformed against earlier ones in the batch too.
func BatchTransform(clientOps []clock.Operation, serverOps []clock.Operation) []clock.Operation {
	sorted := make([]clock.Operation, len(serverOps))
	copy(sorted, serverOps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LogicalClock < sorted[j].LogicalClock
	})

	result := make([]clock.Operation, 0, len(clientOps))
	for _, op := range clientOps {
		transformed := op
		dropped := false
		for _, histOp := range sorted {
			transformed = Transform(transformed, histOp)
			if transformed.Kind == clock.Delete && transformed.Length == 0 {
				dropped = true
				break
			}
		}
		if dropped {
			continue
		}
		result = append(result, transformed)
		sorted = append(sorted, transformed)
	}
	return result
}
