package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiv248/quillsync/pkg/clock"
)

func newTestDoc() *Document {
	return New("f1", "notes.txt", 1, DefaultConfig())
}

func TestInsertAppendsAndMarksDirty(t *testing.T) {
	d := newTestDoc()
	assert.False(t, d.Dirty())

	res, err := d.Insert(0, "hello", 1)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, uint32(0), res.Position)
	assert.Equal(t, "hello", d.Text())
	assert.True(t, d.Dirty())

	d.MarkSaved()
	assert.False(t, d.Dirty())
}

func TestInsertClampsStalePosition(t *testing.T) {
	d := newTestDoc()
	_, err := d.Insert(0, "abc", 1)
	require.NoError(t, err)

	res, err := d.Insert(999, "Z", 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), res.Position)
	assert.Equal(t, "abcZ", d.Text())
}

func TestDeleteClampsOutOfBounds(t *testing.T) {
	d := newTestDoc()
	_, err := d.Insert(0, "abc", 1)
	require.NoError(t, err)

	res, err := d.Delete(1, 100, 2)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "a", d.Text())
}

func TestDeleteOnEmptyDocumentIsNoop(t *testing.T) {
	d := newTestDoc()
	res, err := d.Delete(0, 1, 1)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestConcurrentInsertsTransformAgainstHistory(t *testing.T) {
	d := New("f1", "notes.txt", 1, DefaultConfig())
	_, err := d.Insert(0, "hello", 1)
	require.NoError(t, err)

	resA, err := d.Insert(0, "X", 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), resA.Position)

	resB, err := d.Insert(5, "Y", 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), resB.Position)
	assert.Equal(t, "XhelloY", d.Text())
}

func TestRecentOpsBoundedByK(t *testing.T) {
	d := newTestDoc()
	for i := 0; i < 5; i++ {
		_, err := d.Insert(0, "a", 1)
		require.NoError(t, err)
	}
	ops := d.RecentOps(2)
	assert.Len(t, ops, 2)
}

func TestHistoryCapacityEvictsOldest(t *testing.T) {
	cfg := Config{HistoryCapacity: 3, TransformWindowInsert: 3, TransformWindowDelete: 3}
	d := New("f1", "notes.txt", 1, cfg)
	var applied []clock.Operation
	for i := 0; i < 10; i++ {
		res, err := d.Insert(0, "a", 1)
		require.NoError(t, err)
		applied = append(applied, res.Op)
	}
	assert.Len(t, d.AllOps(), 3)
	assert.Equal(t, applied[7:], d.AllOps())
}

// TestDeleteAgainstConcurrentDeleteUsesUnclampedLength covers the
// enumerated S4 scenario end to end through the engine, not just pure
// Transform: "abcdef", one author deletes (1,3) leaving "aef", then a
// second author submits delete(2,3) computed against the original
// "abcdef". The submitted length must survive into the transform
// unclamped against the post-delete document, or the op is wrongly
// read as delete(2,1) and dropped instead of converging to delete(1,1).
func TestDeleteAgainstConcurrentDeleteUsesUnclampedLength(t *testing.T) {
	d := Restore("f1", "notes.txt", 1, "abcdef", DefaultConfig())

	res1, err := d.Delete(1, 3, 1)
	require.NoError(t, err)
	require.True(t, res1.Success)
	require.Equal(t, "aef", d.Text())

	res2, err := d.Delete(2, 3, 2)
	require.NoError(t, err)
	require.True(t, res2.Success)
	assert.Equal(t, uint32(1), res2.Position)
	assert.Equal(t, uint32(1), res2.Length)
	assert.Equal(t, "af", d.Text())
}

func TestParticipantLifecycle(t *testing.T) {
	d := newTestDoc()
	d.AddParticipant(1)
	d.AddParticipant(2)
	assert.Equal(t, 2, d.ParticipantCount())

	remaining := d.RemoveParticipant(1)
	assert.Equal(t, 1, remaining)
	assert.ElementsMatch(t, []UserID{2}, d.Participants())
}

func TestCopyIsIndependentSnapshot(t *testing.T) {
	d := newTestDoc()
	_, err := d.Insert(0, "hello", 1)
	require.NoError(t, err)
	d.AddParticipant(1)

	snap := d.Copy()
	assert.Equal(t, "hello", snap.Content)

	_, err = d.Insert(5, " world", 1)
	require.NoError(t, err)
	assert.Equal(t, "hello", snap.Content, "snapshot must not observe later mutation")
}
