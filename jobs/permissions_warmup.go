package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/meridian-saas/meridian/internal/jobs"
	"github.com/meridian-saas/meridian/internal/rbac"
	"github.com/meridian-saas/meridian/internal/tenant"
)

// PermissionsWarmupJob pre-resolves every active user's permission set
// so the first authorization checks after a deploy or a mass
// invalidation hit the cache.
type PermissionsWarmupJob struct {
	Resolver *rbac.Resolver
	Users    rbac.UserDirectory
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewPermissionsWarmupJob wires dependencies for the warmup handler.
func NewPermissionsWarmupJob(resolver *rbac.Resolver, users rbac.UserDirectory, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsWarmupJob {
	return &PermissionsWarmupJob{Resolver: resolver, Users: users, Logger: logger, Metrics: metrics}
}

// Handle processes permission warmup tasks.
func (j *PermissionsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Resolver == nil {
		return errors.New("permissions warmup: handler not configured")
	}
	var payload PermissionsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tenantID := tenant.Normalize(payload.TenantID)
	if tenantID == "" {
		return asynq.SkipRetry
	}
	ctx = tenant.WithTenant(ctx, tenantID)

	tracker := j.Metrics.Track(TaskPermissionsWarmup)
	start := time.Now()
	ids, err := j.Users.ActiveUserIDs(ctx)
	if err != nil {
		return tracker.End(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			_, err := j.Resolver.EffectivePermissions(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		j.Logger.Error("permissions warmup", slog.String("tenant", tenantID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.Logger.Info("permissions warmup complete",
		slog.String("tenant", tenantID),
		slog.Int("users", len(ids)),
		slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}
