/*
Package master implements the primary-master role: cluster-wide
coordination held authoritative by one elected master and replicated to
every other master via raft.

Leadership (github.com/hashicorp/raft) substitutes for the specification's
lowest-UUID election algorithm — raft's leader is the primary master, and
its replicated log is the mechanism by which every accepted node, partition
table mutation, cluster-state transition, and TID/OID allocation survives a
primary failover. FSM (fsm.go) is the raft state machine; Election
(election.go) owns the raft instance itself; Coordinator (coordinator.go)
drives the RECOVERING/VERIFYING/RUNNING/STOPPING state machine including
verification's majority-lock resolution of in-flight transactions; Server
(handlers.go) is the packet-handler set installed on every connection a
master accepts.
*/
package master
