package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsWarmup pre-populates the permission cache for a tenant.
	TaskPermissionsWarmup = "rbac:permissions_warmup"
)

// PermissionsWarmupPayload names the tenant whose cache should be warmed.
type PermissionsWarmupPayload struct {
	TenantID string `json:"tenant_id"`
}

// NewPermissionsWarmupTask constructs an Asynq task.
func NewPermissionsWarmupTask(payload PermissionsWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsWarmup, data), nil
}
