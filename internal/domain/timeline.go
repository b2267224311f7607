package domain

// Deployment timeline event types
const (
	EventTypeDeploySubmitted = "DEPLOY_SUBMITTED"
	EventTypeDeployUploaded  = "DEPLOY_UPLOADED"
	EventTypeDeployLaunched  = "DEPLOY_LAUNCHED"
	EventTypeDeployFailed    = "DEPLOY_FAILED"
	EventTypeLocalRun        = "LOCAL_RUN"
	EventTypeRetentionSweep  = "RETENTION_SWEEP"
)

const (
	ResourceTypeTask   = "task"
	ResourceTypeSystem = "system"
)
