/*
Package network implements the connection half of the wire protocol: framed
request/answer correlation, a pluggable handler-set dispatch table with the
handler-switcher described below, and per-connection liveness tracking
(ping/pong plus per-call timeouts).

Package proto owns byte-level framing and field encoding; this package owns
everything above it — matching replies to the request that asked for them,
delivering notifications to whichever handler set is currently installed, and
tearing a connection down cleanly on read errors or ping timeouts. A packet
with no handler is answered with ECProtocolError and the connection stays
open.

# Handler switching

A node's role in a conversation changes over time: a storage talks to a
master as an unidentified peer, then as an accepted storage, then possibly
as a replication source. Each stage has its own set of packet handlers.
Connection.SwitchHandler installs a new HandlerSet, but requests issued
before the switch may still be in flight; their answers must still reach the
handler that asked for them (via the pending-reply channel), while anything
the old handler set does not already own routes to the new one. The switch
itself only takes effect once every locally-issued request that predates it
has been answered, so a handler set never observes a reply to a question it
never asked.

# Liveness

Each Connection runs a ping loop: when no traffic is read for PingDelay, it
sends a ping; if PingTimeout elapses with neither traffic nor a pong, the
connection is considered dead and closed.
*/
package network
