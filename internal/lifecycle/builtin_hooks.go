package lifecycle

import (
	"context"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/database"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
)

const (
	HookValidate           = "validate"
	HookRedeployActive     = "redeploy-active"
	HookConfirmName        = "confirm-resource-name"
	HookDecommissionActive = "decommission-active"
	HookCascadeState       = "cascade-state"
)

func (c *Controller) registerHooks() {
	c.hooks.Register(Hook{Name: HookValidate, Event: EventBeforeCreate, Fn: c.validateHook})
	c.hooks.Register(Hook{Name: HookValidate, Event: EventBeforeUpdate, Fn: c.validateHook})
	c.hooks.Register(Hook{Name: HookRedeployActive, Event: EventAfterUpdate, Fn: c.redeployActiveHook})
	c.hooks.Register(Hook{Name: HookConfirmName, Event: EventBeforeDelete, Fn: confirmHook})
	c.hooks.Register(Hook{
		Name:  HookDecommissionActive,
		Event: EventBeforeDelete,
		After: []string{HookConfirmName},
		Fn:    c.decommissionActiveHook,
	})
	c.hooks.Register(Hook{
		Name:  HookCascadeState,
		Event: EventBeforeDelete,
		After: []string{HookDecommissionActive},
		Fn:    c.cascadeStateHook,
	})
}

func (c *Controller) validateHook(ctx context.Context, rec *Record) error {
	return platform.Validate(ctx, c.db, rec.Kind, rec.Platform)
}

func confirmHook(_ context.Context, rec *Record) error {
	return confirm(rec.Platform, rec.Confirmation)
}

// redeployActiveHook pushes an edited record to the cluster when the platform is active. Cluster
// failures surface as a validation error on "active"; the state keeps active=true.
func (c *Controller) redeployActiveHook(ctx context.Context, rec *Record) error {
	id := rec.Platform.Common().ID
	st, err := c.State(ctx, rec.Kind, id)
	if err != nil || st == nil || !st.Active {
		return err
	}

	k := key(rec.Kind, id)
	if err := c.inflight.Acquire(ctx, k); err != nil {
		return err
	}
	defer c.inflight.Release(k)

	if err := c.deploy(ctx, rec.Kind, rec.Platform); err != nil {
		return apperrors.AsDeployFailure(err)
	}
	_, err = c.poll(ctx, rec.Kind, id)
	return err
}

func (c *Controller) decommissionActiveHook(ctx context.Context, rec *Record) error {
	st, err := c.State(ctx, rec.Kind, rec.Platform.Common().ID)
	if err != nil || st == nil || !st.Active {
		return err
	}
	return c.decommission(ctx, rec.Kind, rec.Platform)
}

func (c *Controller) cascadeStateHook(ctx context.Context, rec *Record) error {
	return database.Conn(ctx, c.db).
		Table(rec.Kind.StateTable()).
		Where("platform_id = ?", rec.Platform.Common().ID).
		Delete(&models.PlatformState{}).Error
}
