/*
Package proto implements neo's wire protocol: a framed, bidirectional packet
stream carrying fixed-schema payloads.

Every packet on the wire has the shape:

	msg_id:u32 (big-endian) | packet_type:u16 (big-endian) | length:u32 (big-endian) | payload:length bytes

Each endpoint keeps its own monotonically increasing msg_id counter (wraps at
2^32). A reply packet carries the msg_id of the request it answers; a
notification (no reply expected) picks a fresh msg_id and the receiver must
not reply to it.

This package only knows about framing and field encoding. Request/answer
correlation, handler dispatch, and liveness tracking live in package
network; the packet type's domain meaning (what an AskObject means) lives in
the packages that send and handle it (master, storage, client, admin).
*/
package proto
