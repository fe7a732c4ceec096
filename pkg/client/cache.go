package client

import (
	"sort"
	"sync"

	"github.com/cuemby/neo/pkg/ids"
)

// entry is one cached revision: the payload valid over [startTID, endTID),
// where endTID of ZeroTID means "still the latest known revision".
type entry struct {
	data    []byte
	endTID  ids.TID
}

// Cache is the client's MVCC cache keyed by (oid, start_tid), maintained
// beside a Revision Index (oid -> cached start_tids, descending) and an
// Invalidated Index (oid -> invalidating tids, ascending) exactly as laid
// out in the design: "for a cached (oid, start_tid) -> (_, end_tid), no
// other cached revision of oid falls strictly within [start_tid, end_tid)".
//
// All mutation goes through cacheLock, a leaf in the client's lock order
// (load_lock -> oid_lock -> cache_lock -> connecting_to_master_lock);
// Cache itself only ever takes its own lock, never anyone else's.
type Cache struct {
	mu sync.Mutex

	byOID map[ids.OID]map[ids.TID]entry // oid -> start_tid -> entry
	revs  map[ids.OID][]ids.TID         // oid -> start_tids, kept sorted descending
	inval map[ids.OID][]ids.TID         // oid -> invalidating tids, kept sorted ascending
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		byOID: make(map[ids.OID]map[ids.TID]entry),
		revs:  make(map[ids.OID][]ids.TID),
		inval: make(map[ids.OID][]ids.TID),
	}
}

// Insert records a freshly-loaded revision (oid, startTID) -> (data,
// endTID). A duplicate insert of an already-cached start_tid is treated as
// a programming error, per the design note resolving §9 open question 2,
// rather than silently overwritten — callers (Load) never re-insert a tid
// they already hold.
func (c *Cache) Insert(oid ids.OID, startTID ids.TID, data []byte, endTID ids.TID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	revisions, ok := c.byOID[oid]
	if !ok {
		revisions = make(map[ids.TID]entry)
		c.byOID[oid] = revisions
	}
	if _, dup := revisions[startTID]; dup {
		panic("client: duplicate cache insert for already-cached revision")
	}
	revisions[startTID] = entry{data: data, endTID: endTID}

	tids := c.revs[oid]
	i := sort.Search(len(tids), func(i int) bool { return tids[i] <= startTID })
	tids = append(tids, 0)
	copy(tids[i+1:], tids[i:])
	tids[i] = startTID
	c.revs[oid] = tids
}

// GetExact returns the revision cached at exactly startTID, if any.
func (c *Cache) GetExact(oid ids.OID, startTID ids.TID) ([]byte, ids.TID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byOID[oid][startTID]
	return e.data, e.endTID, ok
}

// LatestSerial returns the highest cached start_tid for oid, or false if
// none is cached or an invalidation later than it has arrived since.
func (c *Cache) LatestSerial(oid ids.OID) (ids.TID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tids := c.revs[oid]
	if len(tids) == 0 {
		return ids.ZeroTID, false
	}
	latest := tids[0]
	for _, invTID := range c.inval[oid] {
		if invTID > latest {
			return ids.ZeroTID, false
		}
	}
	return latest, true
}

// SerialBefore returns the highest cached start_tid strictly less than
// beforeTID, rejecting the hit if an invalidation landed in
// (candidate, beforeTID) — a later-arriving commit the client hasn't
// re-read yet might actually be the right answer.
func (c *Cache) SerialBefore(oid ids.OID, beforeTID ids.TID) (ids.TID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var candidate ids.TID
	found := false
	for _, t := range c.revs[oid] {
		if t < beforeTID {
			candidate = t
			found = true
			break
		}
	}
	if !found {
		return ids.ZeroTID, false
	}
	for _, invTID := range c.inval[oid] {
		if invTID > candidate && invTID < beforeTID {
			return ids.ZeroTID, false
		}
	}
	return candidate, true
}

// PatchEndTID closes off the open-ended revision at startTID once a newer
// one commits, step (a) of tpc_finish's cache update.
func (c *Cache) PatchEndTID(oid ids.OID, startTID, newEndTID ids.TID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	revisions, ok := c.byOID[oid]
	if !ok {
		return
	}
	e, ok := revisions[startTID]
	if !ok {
		return
	}
	e.endTID = newEndTID
	revisions[startTID] = e
}

// Invalidate records that tid invalidated oid's prior revisions (a deleted
// object, or simply "don't trust anything before tid without re-reading"),
// the Invalidated Index update driven by InvalidateObjects notifications
// and by tpc_finish for deletion markers.
func (c *Cache) Invalidate(oid ids.OID, tid ids.TID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tids := c.inval[oid]
	i := sort.Search(len(tids), func(i int) bool { return tids[i] >= tid })
	tids = append(tids, 0)
	copy(tids[i+1:], tids[i:])
	tids[i] = tid
	c.inval[oid] = tids
}
