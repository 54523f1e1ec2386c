package mongo

// BSON field name constants, mirroring models.Job's bson tags so query
// construction never hand-types a field name twice.
const (
	keyID                = "_id"
	keyName              = "name"
	keyData              = "data"
	keyStatus            = "status"
	keyNextRunAt         = "nextRunAt"
	keyLockedAt          = "lockedAt"
	keyClaimedBy         = "claimedBy"
	keyLastHeartbeat     = "lastHeartbeat"
	keyHeartbeatInterval = "heartbeatInterval"
	keyFailCount         = "failCount"
	keyFailReason        = "failReason"
	keyRepeatInterval    = "repeatInterval"
	keyUniqueKey         = "uniqueKey"
	keyCreatedAt         = "createdAt"
	keyUpdatedAt         = "updatedAt"
)

// Status string constants, matching models.Status's underlying values.
const (
	statusPending    = "pending"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusFailed     = "failed"
	statusCancelled  = "cancelled"
)
