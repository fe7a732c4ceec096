package client

import (
	"testing"

	"github.com/cuemby/neo/pkg/ids"
	"github.com/stretchr/testify/assert"
)

func TestCacheGetExactHitsOnlyTheStoredRevision(t *testing.T) {
	c := NewCache()
	c.Insert(1, 10, []byte("v10"), ids.ZeroTID)

	data, end, ok := c.GetExact(1, 10)
	assert.True(t, ok)
	assert.Equal(t, []byte("v10"), data)
	assert.Equal(t, ids.ZeroTID, end)

	_, _, ok = c.GetExact(1, 11)
	assert.False(t, ok)
}

func TestCacheInsertPanicsOnDuplicateRevision(t *testing.T) {
	c := NewCache()
	c.Insert(1, 10, []byte("v10"), ids.ZeroTID)
	assert.Panics(t, func() { c.Insert(1, 10, []byte("v10-again"), ids.ZeroTID) })
}

func TestCacheLatestSerialFollowsRevisionIndex(t *testing.T) {
	c := NewCache()
	_, ok := c.LatestSerial(1)
	assert.False(t, ok, "empty cache has no latest")

	c.Insert(1, 5, []byte("v5"), 10)
	c.Insert(1, 10, []byte("v10"), ids.ZeroTID)

	latest, ok := c.LatestSerial(1)
	assert.True(t, ok)
	assert.Equal(t, ids.TID(10), latest)
}

func TestCacheLatestSerialRejectsStaleHitAfterInvalidation(t *testing.T) {
	// Scenario: the client cached tid=5 as latest, then a later commit at
	// tid=8 invalidated the oid before the client ever re-read it — latest
	// must not be answered from the stale cache entry.
	c := NewCache()
	c.Insert(1, 5, []byte("v5"), ids.ZeroTID)
	c.Invalidate(1, 8)

	_, ok := c.LatestSerial(1)
	assert.False(t, ok)
}

func TestCacheSerialBeforeSkipsNewerRevisions(t *testing.T) {
	c := NewCache()
	c.Insert(1, 5, []byte("v5"), 10)
	c.Insert(1, 10, []byte("v10"), ids.ZeroTID)

	tid, ok := c.SerialBefore(1, 10)
	assert.True(t, ok)
	assert.Equal(t, ids.TID(5), tid)

	tid, ok = c.SerialBefore(1, 11)
	assert.True(t, ok)
	assert.Equal(t, ids.TID(10), tid)

	_, ok = c.SerialBefore(1, 5)
	assert.False(t, ok, "nothing cached strictly before tid 5")
}

func TestCacheSerialBeforeRejectsHitStraddlingInvalidation(t *testing.T) {
	// tid=5 is cached, but an invalidation at tid=7 landed strictly between
	// the candidate and the requested upper bound of 9: the client cannot
	// know whether tid=7 superseded tid=5 without re-reading.
	c := NewCache()
	c.Insert(1, 5, []byte("v5"), ids.ZeroTID)
	c.Invalidate(1, 7)

	_, ok := c.SerialBefore(1, 9)
	assert.False(t, ok)
}

func TestCachePatchEndTIDClosesOpenEndedRevision(t *testing.T) {
	c := NewCache()
	c.Insert(1, 5, []byte("v5"), ids.ZeroTID)
	c.PatchEndTID(1, 5, 10)

	_, end, ok := c.GetExact(1, 5)
	assert.True(t, ok)
	assert.Equal(t, ids.TID(10), end)
}
