package proto

// Type identifies the schema of a packet's payload.
type Type uint16

// Packet classes required by the specification, grouped by role.
const (
	// Identification. Handlers do not require it to be the first packet.
	TRequestIdentification Type = iota + 1
	TAcceptIdentification

	// Primary election & discovery.
	TAskPrimary
	TAnswerPrimary
	TReelectPrimary
	TNotifyClusterInformation

	// Node-information notifications.
	TNotifyNodeInformation

	// Partition-table snapshot and diff.
	TAskPartitionTable
	TAnswerPartitionTable
	TNotifyPartitionChanges

	// Cluster-state query/set.
	TAskClusterState
	TAnswerClusterState
	TSetClusterState

	// TID/OID allocation.
	TAskBeginTransaction
	TAnswerBeginTransaction
	TAskNewOIDs
	TAnswerNewOIDs

	// Transaction begin/store/vote/finish/abort.
	TAskStoreObject
	TAnswerStoreObject
	TAskStoreTransaction
	TAnswerStoreTransaction
	TAskFinishTransaction
	TAnswerTransactionFinished
	TAbortTransaction
	TAskCheckCurrentSerial
	TAnswerCheckCurrentSerial

	// Lock/unlock/invalidate/barrier.
	TLockInformation
	TInformationLocked
	TNotifyUnlockInformation
	TInvalidateObjects
	TAskBarrier
	TAnswerBarrier

	// Object query.
	TAskObject
	TAnswerObject
	TAskObjectHistory
	TAnswerObjectHistory
	TAskObjectUndoSerial
	TAnswerObjectUndoSerial
	TAskHasLock
	TAnswerHasLock

	// TID listing / verification.
	TAskLastIDs
	TAnswerLastIDs
	TAskTIDs
	TAnswerTIDs
	TAskTransaction
	TAnswerTransaction
	TAskUnfinishedTransactions
	TAnswerUnfinishedTransactions
	TDeleteTransaction
	TCommitTransaction

	// Pack.
	TAskPack
	TAnswerPack

	// Replication.
	TAskReplicationCriticalTID
	TAnswerReplicationCriticalTID
	TNotifyReplicationDone

	// Admin control plane.
	TAskClusterNodes
	TAnswerClusterNodes
	TAskSetNodeState
	TAskAddPendingNodes
	TAskCheckReplicas

	// Liveness.
	TPing
	TPong

	// Generic replies.
	TError
	TAck
)

//go:generate stringer -type=Type
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "TUnknown"
}

var typeNames = map[Type]string{
	TRequestIdentification:        "RequestIdentification",
	TAcceptIdentification:         "AcceptIdentification",
	TAskPrimary:                   "AskPrimary",
	TAnswerPrimary:                "AnswerPrimary",
	TReelectPrimary:               "ReelectPrimary",
	TNotifyClusterInformation:     "NotifyClusterInformation",
	TNotifyNodeInformation:        "NotifyNodeInformation",
	TAskPartitionTable:            "AskPartitionTable",
	TAnswerPartitionTable:         "AnswerPartitionTable",
	TNotifyPartitionChanges:       "NotifyPartitionChanges",
	TAskClusterState:              "AskClusterState",
	TAnswerClusterState:           "AnswerClusterState",
	TSetClusterState:              "SetClusterState",
	TAskBeginTransaction:          "AskBeginTransaction",
	TAnswerBeginTransaction:       "AnswerBeginTransaction",
	TAskNewOIDs:                   "AskNewOIDs",
	TAnswerNewOIDs:                "AnswerNewOIDs",
	TAskStoreObject:               "AskStoreObject",
	TAnswerStoreObject:            "AnswerStoreObject",
	TAskStoreTransaction:          "AskStoreTransaction",
	TAnswerStoreTransaction:       "AnswerStoreTransaction",
	TAskFinishTransaction:         "AskFinishTransaction",
	TAnswerTransactionFinished:    "AnswerTransactionFinished",
	TAbortTransaction:             "AbortTransaction",
	TAskCheckCurrentSerial:        "AskCheckCurrentSerial",
	TAnswerCheckCurrentSerial:     "AnswerCheckCurrentSerial",
	TLockInformation:              "LockInformation",
	TInformationLocked:            "InformationLocked",
	TNotifyUnlockInformation:      "NotifyUnlockInformation",
	TInvalidateObjects:            "InvalidateObjects",
	TAskBarrier:                   "AskBarrier",
	TAnswerBarrier:                "AnswerBarrier",
	TAskObject:                    "AskObject",
	TAnswerObject:                 "AnswerObject",
	TAskObjectHistory:             "AskObjectHistory",
	TAnswerObjectHistory:          "AnswerObjectHistory",
	TAskObjectUndoSerial:          "AskObjectUndoSerial",
	TAnswerObjectUndoSerial:       "AnswerObjectUndoSerial",
	TAskHasLock:                   "AskHasLock",
	TAnswerHasLock:                "AnswerHasLock",
	TAskLastIDs:                   "AskLastIDs",
	TAnswerLastIDs:                "AnswerLastIDs",
	TAskTIDs:                      "AskTIDs",
	TAnswerTIDs:                   "AnswerTIDs",
	TAskTransaction:               "AskTransaction",
	TAnswerTransaction:            "AnswerTransaction",
	TAskUnfinishedTransactions:    "AskUnfinishedTransactions",
	TAnswerUnfinishedTransactions: "AnswerUnfinishedTransactions",
	TDeleteTransaction:            "DeleteTransaction",
	TCommitTransaction:            "CommitTransaction",
	TAskPack:                      "AskPack",
	TAnswerPack:                   "AnswerPack",
	TAskReplicationCriticalTID:    "AskReplicationCriticalTID",
	TAnswerReplicationCriticalTID: "AnswerReplicationCriticalTID",
	TNotifyReplicationDone:        "NotifyReplicationDone",
	TAskClusterNodes:              "AskClusterNodes",
	TAnswerClusterNodes:           "AnswerClusterNodes",
	TAskSetNodeState:              "AskSetNodeState",
	TAskAddPendingNodes:           "AskAddPendingNodes",
	TAskCheckReplicas:             "AskCheckReplicas",
	TPing:                         "Ping",
	TPong:                         "Pong",
	TError:                        "Error",
	TAck:                          "Ack",
}

// Packet is a decoded frame: a correlation id, a type, and an already
// length-delimited payload. The payload stays raw until a handler decodes it
// into a concrete Body with DecodeBody.
type Packet struct {
	MsgID   uint32
	Type    Type
	Payload []byte
}
