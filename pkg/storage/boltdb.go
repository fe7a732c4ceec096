package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/neo/pkg/cluster"
	"github.com/cuemby/neo/pkg/ids"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta           = []byte("meta")
	bucketObjects        = []byte("objects")
	bucketTransactions   = []byte("transactions")
	bucketUnfinished     = []byte("unfinished")
	bucketData           = []byte("data")
	bucketPartitionTable = []byte("partition_table")
)

const (
	metaKeyLTID  = "ltid"
	metaKeyLPTID = "lptid"
	metaKeyLOID  = "loid"
	ptKeyPTID    = "ptid"
	ptKeyRows    = "rows"
)

// storedObjectRow is the on-disk encoding of ObjectRow, minus the payload
// (which lives in bucketData, content-addressed by checksum).
type storedObjectRow struct {
	Compression bool
	Checksum    uint64
	DataID      uint64
	DataTID     uint64
}

// storedTransactionRow is the on-disk encoding of TransactionRow.
type storedTransactionRow struct {
	User        string
	Description string
	Extension   []byte
	OIDs        []uint64
	Temporary   bool
}

// BoltStore implements Store using a single bbolt database file, in the
// bucket-per-concern style of a row store backed by an embedded KV engine.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the storage node's database
// file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "neo-storage.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMeta, bucketObjects, bucketTransactions, bucketUnfinished, bucketData, bucketPartitionTable} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func objectKey(oid ids.OID, serial ids.TID) []byte {
	oidBytes := oid.Bytes()
	serialBytes := serial.Bytes()
	key := make([]byte, 0, 16)
	key = append(key, oidBytes[:]...)
	key = append(key, serialBytes[:]...)
	return key
}

func (s *BoltStore) GetObject(oid ids.OID, atTID, beforeTID ids.TID) (ObjectRow, bool, error) {
	var best *storedObjectRow
	var bestSerial ids.TID

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		c := b.Cursor()
		prefix := oid.Bytes()
		for k, v := c.Seek(prefix[:]); k != nil && bytes.HasPrefix(k, prefix[:]); k, v = c.Next() {
			serial := ids.TIDFromBytes(k[8:])
			switch {
			case atTID != ids.ZeroTID:
				if serial != atTID {
					continue
				}
			case beforeTID != ids.ZeroTID:
				if serial >= beforeTID {
					continue
				}
			}
			if best != nil && serial <= bestSerial {
				continue
			}
			var stored storedObjectRow
			if err := json.Unmarshal(v, &stored); err != nil {
				return err
			}
			best = &stored
			bestSerial = serial
		}
		return nil
	})
	if err != nil || best == nil {
		return ObjectRow{}, false, err
	}

	row := ObjectRow{
		OID:         oid,
		Serial:      bestSerial,
		Compression: best.Compression,
		Checksum:    best.Checksum,
		DataTID:     ids.TID(best.DataTID),
	}
	if best.DataTID == ids.ZeroTID {
		data, ok, err := s.GetData(best.DataID)
		if err != nil {
			return ObjectRow{}, false, err
		}
		if !ok {
			return ObjectRow{}, false, fmt.Errorf("storage: object %s@%s references missing data %d", oid, bestSerial, best.DataID)
		}
		row.Data = data
	}
	return row, true, nil
}

func (s *BoltStore) GetLastIDs() (ids.TID, ids.PTID, ids.OID, error) {
	var ltid ids.TID
	var lptid ids.PTID
	var loid ids.OID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if v := b.Get([]byte(metaKeyLTID)); v != nil {
			ltid = ids.TIDFromBytes(v)
		}
		if v := b.Get([]byte(metaKeyLPTID)); v != nil {
			lptid = ids.PTIDFromBytes(v)
		}
		if v := b.Get([]byte(metaKeyLOID)); v != nil {
			loid = ids.OIDFromBytes(v)
		}
		return nil
	})
	return ltid, lptid, loid, err
}

func (s *BoltStore) bumpLastIDs(tx *bolt.Tx, tid ids.TID, oids []ids.OID) error {
	b := tx.Bucket(bucketMeta)
	ltid, _, loid, err := s.getLastIDsTx(tx)
	if err != nil {
		return err
	}
	if tid > ltid {
		tidBytes := tid.Bytes()
		if err := b.Put([]byte(metaKeyLTID), tidBytes[:]); err != nil {
			return err
		}
	}
	maxOID := loid
	for _, oid := range oids {
		if oid > maxOID {
			maxOID = oid
		}
	}
	if maxOID > loid {
		oidBytes := maxOID.Bytes()
		if err := b.Put([]byte(metaKeyLOID), oidBytes[:]); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) getLastIDsTx(tx *bolt.Tx) (ids.TID, ids.PTID, ids.OID, error) {
	b := tx.Bucket(bucketMeta)
	var ltid ids.TID
	var lptid ids.PTID
	var loid ids.OID
	if v := b.Get([]byte(metaKeyLTID)); v != nil {
		ltid = ids.TIDFromBytes(v)
	}
	if v := b.Get([]byte(metaKeyLPTID)); v != nil {
		lptid = ids.PTIDFromBytes(v)
	}
	if v := b.Get([]byte(metaKeyLOID)); v != nil {
		loid = ids.OIDFromBytes(v)
	}
	return ltid, lptid, loid, nil
}

func (s *BoltStore) GetTIDList(first, last uint32, partitions []uint32, numPartitions uint32) ([]ids.TID, error) {
	want := make(map[uint32]bool, len(partitions))
	for _, p := range partitions {
		want[p] = true
	}

	var all []ids.TID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		return b.ForEach(func(k, v []byte) error {
			tid := ids.TIDFromBytes(k)
			if len(want) > 0 {
				var row storedTransactionRow
				if err := json.Unmarshal(v, &row); err != nil {
					return err
				}
				matches := false
				for _, oid := range row.OIDs {
					if want[ids.PartitionOf(ids.OID(oid), numPartitions)] {
						matches = true
						break
					}
				}
				if !matches {
					return nil
				}
			}
			all = append(all, tid)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if int(first) >= len(all) {
		return nil, nil
	}
	end := int(last)
	if end > len(all) || last == 0 {
		end = len(all)
	}
	if end <= int(first) {
		return nil, nil
	}
	return all[first:end], nil
}

func (s *BoltStore) GetObjectHistory(oid ids.OID, first, count uint32) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		c := b.Cursor()
		prefix := oid.Bytes()
		// Newest-first, matching the order a client asks for history in.
		var rows []HistoryEntry
		for k, v := c.Seek(prefix[:]); k != nil && bytes.HasPrefix(k, prefix[:]); k, v = c.Next() {
			var stored storedObjectRow
			if err := json.Unmarshal(v, &stored); err != nil {
				return err
			}
			size := 0
			if stored.DataTID == 0 {
				if data, ok, err := s.getDataTx(tx, stored.DataID); err == nil && ok {
					size = len(data)
				}
			}
			rows = append(rows, HistoryEntry{TID: ids.TIDFromBytes(k[8:]), Size: uint32(size)})
		}
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
		if int(first) < len(rows) {
			end := len(rows)
			if count > 0 && int(first)+int(count) < end {
				end = int(first) + int(count)
			}
			entries = rows[first:end]
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) StoreTransaction(tid ids.TID, objects []ObjectRow, txn TransactionRow, temporary bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dataBucket := tx.Bucket(bucketData)
		objBucket := tx.Bucket(bucketObjects)

		oids := make([]ids.OID, 0, len(objects))
		for _, obj := range objects {
			oids = append(oids, obj.OID)
			stored := storedObjectRow{Compression: obj.Compression, Checksum: obj.Checksum, DataTID: uint64(obj.DataTID)}
			if obj.DataTID == ids.ZeroTID {
				if err := putData(dataBucket, obj.Checksum, obj.Data); err != nil {
					return err
				}
				stored.DataID = obj.Checksum
			}
			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := objBucket.Put(objectKey(obj.OID, tid), data); err != nil {
				return err
			}
		}

		storedTxn := storedTransactionRow{
			User:        txn.User,
			Description: txn.Description,
			Extension:   txn.Extension,
			Temporary:   temporary,
		}
		for _, oid := range txn.OIDs {
			storedTxn.OIDs = append(storedTxn.OIDs, uint64(oid))
		}
		data, err := json.Marshal(storedTxn)
		if err != nil {
			return err
		}
		tidBytes := tid.Bytes()
		if err := tx.Bucket(bucketTransactions).Put(tidBytes[:], data); err != nil {
			return err
		}

		if temporary {
			if err := tx.Bucket(bucketUnfinished).Put(tidBytes[:], []byte{1}); err != nil {
				return err
			}
		}

		return s.bumpLastIDs(tx, tid, oids)
	})
}

func (s *BoltStore) FinishTransaction(tid ids.TID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tidBytes := tid.Bytes()
		b := tx.Bucket(bucketTransactions)
		v := b.Get(tidBytes[:])
		if v == nil {
			return fmt.Errorf("storage: finish unknown transaction %s", tid)
		}
		var row storedTransactionRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		row.Temporary = false
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := b.Put(tidBytes[:], data); err != nil {
			return err
		}
		return tx.Bucket(bucketUnfinished).Delete(tidBytes[:])
	})
}

// GetTransaction returns tid's commit metadata row, if this store holds it.
func (s *BoltStore) GetTransaction(tid ids.TID) (TransactionRow, bool, error) {
	var out TransactionRow
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		tidBytes := tid.Bytes()
		v := tx.Bucket(bucketTransactions).Get(tidBytes[:])
		if v == nil {
			return nil
		}
		var row storedTransactionRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		oids := make([]ids.OID, len(row.OIDs))
		for i, o := range row.OIDs {
			oids[i] = ids.OID(o)
		}
		out = TransactionRow{
			TID:         tid,
			User:        row.User,
			Description: row.Description,
			Extension:   row.Extension,
			OIDs:        oids,
			Temporary:   row.Temporary,
		}
		found = true
		return nil
	})
	return out, found, err
}

func (s *BoltStore) DeleteTransaction(tid ids.TID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tidBytes := tid.Bytes()
		if err := tx.Bucket(bucketTransactions).Delete(tidBytes[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bucketUnfinished).Delete(tidBytes[:]); err != nil {
			return err
		}

		objBucket := tx.Bucket(bucketObjects)
		c := objBucket.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if bytes.Equal(k[8:], tidBytes[:]) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
		}
		for _, k := range toDelete {
			if err := objBucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetUnfinishedTIDList() ([]ids.TID, error) {
	var tids []ids.TID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnfinished)
		return b.ForEach(func(k, v []byte) error {
			tids = append(tids, ids.TIDFromBytes(k))
			return nil
		})
	})
	return tids, err
}

func (s *BoltStore) StoreData(checksum uint64, payload []byte, compression bool) (uint64, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putData(tx.Bucket(bucketData), checksum, payload)
	})
	return checksum, err
}

func putData(b *bolt.Bucket, checksum uint64, payload []byte) error {
	var key [8]byte
	for i := 0; i < 8; i++ {
		key[i] = byte(checksum >> (8 * (7 - i)))
	}
	if b.Get(key[:]) != nil {
		return nil
	}
	return b.Put(key[:], payload)
}

func (s *BoltStore) GetData(dataID uint64) ([]byte, bool, error) {
	var data []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		d, found, err := s.getDataTx(tx, dataID)
		data, ok = d, found
		return err
	})
	return data, ok, err
}

func (s *BoltStore) getDataTx(tx *bolt.Tx, dataID uint64) ([]byte, bool, error) {
	var key [8]byte
	for i := 0; i < 8; i++ {
		key[i] = byte(dataID >> (8 * (7 - i)))
	}
	v := tx.Bucket(bucketData).Get(key[:])
	if v == nil {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *BoltStore) ChangePartitionTable(ptid ids.PTID, changes []cluster.CellChange) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPartitionTable)

		rows := make(map[uint32][]cluster.Cell)
		if v := b.Get([]byte(ptKeyRows)); v != nil {
			if err := json.Unmarshal(v, &rows); err != nil {
				return err
			}
		}

		for _, change := range changes {
			cells := rows[change.Partition]
			filtered := cells[:0]
			for _, c := range cells {
				if c.Node != change.Node {
					filtered = append(filtered, c)
				}
			}
			if change.State != cluster.CellDiscarded {
				filtered = append(filtered, cluster.Cell{Node: change.Node, State: change.State})
			}
			rows[change.Partition] = filtered
		}

		data, err := json.Marshal(rows)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(ptKeyRows), data); err != nil {
			return err
		}
		ptidBytes := ptid.Bytes()
		if err := b.Put([]byte(ptKeyPTID), ptidBytes[:]); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		return meta.Put([]byte(metaKeyLPTID), ptidBytes[:])
	})
}

func (s *BoltStore) GetPartitionTable() (ids.PTID, map[uint32][]cluster.Cell, error) {
	var ptid ids.PTID
	rows := make(map[uint32][]cluster.Cell)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPartitionTable)
		if v := b.Get([]byte(ptKeyPTID)); v != nil {
			ptid = ids.PTIDFromBytes(v)
		}
		if v := b.Get([]byte(ptKeyRows)); v != nil {
			return json.Unmarshal(v, &rows)
		}
		return nil
	})
	return ptid, rows, err
}
