/*
Package ids defines the opaque cluster-wide identifiers used throughout neo:
OID (object id), TID (transaction id), PTID (partition-table revision id) and
UUID (node identity). All four are fixed 8-byte values compared bytewise, and
all four share a well-known ZERO value meaning "undefined".
*/
package ids
