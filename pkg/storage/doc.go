/*
Package storage implements a storage node's persisted state and its
protocol-facing behavior: the bbolt-backed row store (Store, BoltStore), the
per-OID write-lock table that makes AskStoreObject's conflict semantics work
(Locks), the INITIALIZING/VERIFYING/RUNNING/{HIDDEN,STOPPING} lifecycle
(Lifecycle), the peer-to-peer replication state machine (Replicator), and the
packet handler set a storage node installs on every accepted connection
(Server).

Object revisions are rows keyed by (oid, serial) with their payload
content-addressed by checksum in a separate bucket, so two revisions with
identical content share one copy on disk. An undo back-pointer (DataTID set,
Data empty) records "this revision equals the one committed at DataTID"
without storing the payload again.
*/
package storage
