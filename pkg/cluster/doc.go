/*
Package cluster models cluster-wide state shared by every node: the set of
known nodes and their states, the partition table mapping partitions to the
cells that hold them, and the cluster-wide state machine
(Recovering/Verifying/Running/Stopping).

None of the types here talk to the network or to storage; they are plain
in-memory structures mutated under a lock and consulted by pkg/master,
pkg/storage, and pkg/client. The master FSM (pkg/master) is the only writer
of record — every other node's copy is kept up to date via
NotifyNodeInformation and NotifyPartitionChanges notifications decoded into
these same types.
*/
package cluster
