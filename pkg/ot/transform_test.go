package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiv248/quillsync/pkg/clock"
)

func apply(t *testing.T, text string, op clock.Operation) (string, uint32) {
	t.Helper()
	result, pos, err := Apply(text, op)
	require.NoError(t, err)
	return result, pos
}

// manualOp lets tests pin LogicalClock/SiteID/WallTime without going
// through the package-level counter, so priority-rule scenarios are
// deterministic regardless of test execution order.
func manualOp(kind clock.Kind, position, length uint32, text string, author uint64, logicalClock uint64, siteID int32, wallTime uint64) clock.Operation {
	return clock.Operation{
		Kind:         kind,
		Position:     position,
		Payload:      text,
		Length:       length,
		Author:       author,
		LogicalClock: logicalClock,
		SiteID:       siteID,
		WallTime:     wallTime,
	}
}

// S1: concurrent insert at different positions.
func TestScenarioS1ConcurrentInsertDifferentPositions(t *testing.T) {
	base := "hello"
	a := manualOp(clock.Insert, 0, 0, "X", 1, 1, 10, 100)
	b := manualOp(clock.Insert, 5, 0, "Y", 2, 2, 20, 101)

	// A is applied first (already in history); B is transformed against it.
	afterA, posA := apply(t, base, a)
	bPrime := Transform(b, a)
	final, posB := apply(t, afterA, bPrime)

	assert.Equal(t, uint32(0), posA)
	assert.Equal(t, uint32(6), posB)
	assert.Equal(t, "XhelloY", final)
}

// S2: same-position tie-break, lower logical clock wins.
func TestScenarioS2SamePositionTieBreak(t *testing.T) {
	base := "ab"
	a := manualOp(clock.Insert, 1, 0, "P", 1, 1, 10, 100)
	b := manualOp(clock.Insert, 1, 0, "Q", 2, 2, 20, 101)

	afterA, posA := apply(t, base, a)
	bPrime := Transform(b, a)
	final, posB := apply(t, afterA, bPrime)

	assert.Equal(t, uint32(1), posA)
	assert.Equal(t, uint32(2), posB)
	assert.Equal(t, "aPQb", final)
}

// S3: insert into a deleted range clamps to the deletion start.
func TestScenarioS3InsertIntoDeletedRange(t *testing.T) {
	del := manualOp(clock.Delete, 1, 3, "", 1, 1, 10, 100) // deletes "bcd" from "abcdef"
	insert := manualOp(clock.Insert, 3, 0, "X", 2, 2, 20, 101)

	transformed := Transform(insert, del)
	assert.Equal(t, uint32(1), transformed.Position)

	after, _ := apply(t, "abcdef", del)
	require.Equal(t, "aef", after)
	final, pos := apply(t, after, transformed)
	assert.Equal(t, uint32(1), pos)
	assert.Equal(t, "aXef", final)
}

// S4: overlapping deletes shrink the client's remaining range.
func TestScenarioS4OverlappingDeletes(t *testing.T) {
	serverDel := manualOp(clock.Delete, 1, 3, "", 1, 1, 10, 100) // delete(1,3) on "abcdef"
	clientDel := manualOp(clock.Delete, 2, 3, "", 2, 2, 20, 101) // delete(2,3) targeting "cde"

	transformed := Transform(clientDel, serverDel)
	assert.Equal(t, uint32(1), transformed.Position)
	assert.Equal(t, uint32(1), transformed.Length)

	after, _ := apply(t, "abcdef", serverDel)
	require.Equal(t, "aef", after)
	final, _ := apply(t, after, transformed)
	assert.Equal(t, "af", final)
}

// S5: stale insert past the end of the document clamps rather than rejects.
func TestScenarioS5StaleInsertPastEnd(t *testing.T) {
	op := manualOp(clock.Insert, 10, 0, "Z", 1, 1, 10, 100)
	final, pos := apply(t, "abc", op)
	assert.Equal(t, uint32(3), pos)
	assert.Equal(t, "abcZ", final)
}

func TestIdentityRuleSameAuthorNeverConflicts(t *testing.T) {
	a := manualOp(clock.Insert, 0, 0, "X", 1, 1, 10, 100)
	b := manualOp(clock.Delete, 5, 2, "", 1, 2, 10, 101)
	assert.Equal(t, a, Transform(a, b))
}

func TestDeleteFullySubsumedBecomesZeroLength(t *testing.T) {
	serverDel := manualOp(clock.Delete, 0, 10, "", 1, 1, 10, 100)
	clientDel := manualOp(clock.Delete, 2, 3, "", 2, 2, 20, 101)
	transformed := Transform(clientDel, serverDel)
	assert.Equal(t, uint32(0), transformed.Length)
}

func TestDeleteVsInsertInsideRangeExtendsDelete(t *testing.T) {
	clientDel := manualOp(clock.Delete, 2, 4, "", 1, 1, 10, 100) // [2,6)
	serverInsert := manualOp(clock.Insert, 4, 0, "XY", 2, 2, 20, 101)
	transformed := Transform(clientDel, serverInsert)
	assert.Equal(t, uint32(6), transformed.Length)
}

// TP1 convergence property (invariant 2 of spec.md §8): applying
// (serverOp, client') equals applying (clientOp, server') when starting
// from the same state, for every INSERT/DELETE combination tested here.
func TestTP1Convergence(t *testing.T) {
	cases := []struct {
		name   string
		start  string
		client clock.Operation
		server clock.Operation
	}{
		{"insert-insert", "hello", manualOp(clock.Insert, 0, 0, "X", 1, 1, 10, 100), manualOp(clock.Insert, 5, 0, "Y", 2, 2, 20, 101)},
		{"insert-delete", "abcdef", manualOp(clock.Insert, 3, 0, "Z", 1, 1, 10, 100), manualOp(clock.Delete, 1, 3, "", 2, 2, 20, 101)},
		{"delete-insert", "abcdef", manualOp(clock.Delete, 1, 3, "", 1, 1, 10, 100), manualOp(clock.Insert, 2, 0, "Q", 2, 2, 20, 101)},
		{"delete-delete", "abcdef", manualOp(clock.Delete, 1, 2, "", 1, 1, 10, 100), manualOp(clock.Delete, 2, 2, "", 2, 2, 20, 101)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clientPrime := Transform(tc.client, tc.server)
			serverPrime := Transform(tc.server, tc.client)

			afterServerThenClient, _, err1 := applyChain(tc.start, tc.server, clientPrime)
			afterClientThenServer, _, err2 := applyChain(tc.start, tc.client, serverPrime)
			require.NoError(t, err1)
			require.NoError(t, err2)
			assert.Equal(t, afterServerThenClient, afterClientThenServer)
		})
	}
}

func applyChain(start string, ops ...clock.Operation) (string, uint32, error) {
	text := start
	var pos uint32
	for _, op := range ops {
		if op.Kind == clock.Delete && op.Length == 0 {
			continue
		}
		var err error
		text, pos, err = Apply(text, op)
		if err != nil {
			return "", 0, err
		}
	}
	return text, pos, nil
}

func TestBatchTransformDropsZeroLengthDeletes(t *testing.T) {
	serverOps := []clock.Operation{
		manualOp(clock.Delete, 0, 10, "", 1, 1, 10, 100),
	}
	clientOps := []clock.Operation{
		manualOp(clock.Delete, 2, 3, "", 2, 2, 20, 101),
	}
	result := BatchTransform(clientOps, serverOps)
	assert.Empty(t, result)
}

func TestBatchTransformSeesEarlierBatchMembers(t *testing.T) {
	serverOps := []clock.Operation{
		manualOp(clock.Insert, 0, 0, "AB", 1, 1, 10, 100),
	}
	clientOps := []clock.Operation{
		manualOp(clock.Insert, 0, 0, "X", 2, 2, 20, 101),
		manualOp(clock.Insert, 0, 0, "Y", 3, 3, 30, 102),
	}
	result := BatchTransform(clientOps, serverOps)
	require.Len(t, result, 2)
	// Both client ops shift past the server insert; the second (different
	// author) also shifts past the first, which was folded into the local
	// server history inside the batch.
	assert.Equal(t, uint32(2), result[0].Position)
	assert.Equal(t, uint32(3), result[1].Position)
}
