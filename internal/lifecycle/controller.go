package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/database"
	"platformd/backend/internal/k8s"
	"platformd/backend/internal/manifest"
	"platformd/backend/internal/metrics"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
	"platformd/backend/internal/security"
)

const (
	HeaderResourceName = "X-RESOURCE-NAME"

	msgConfirmMissing  = "X-RESOURCE-NAME header is required"
	msgConfirmMismatch = "X-RESOURCE-NAME does not match resource name"

	defaultPollTimeout = 30 * time.Second
)

// StateEvent is published every time a platform state row is written.
type StateEvent struct {
	Kind       string `json:"kind"`
	PlatformID uint   `json:"platform_id"`
	Status     string `json:"status"`
	Active     bool   `json:"active"`
	Message    string `json:"message"`
}

// StatePatch is a partial update of a state row. Only Active triggers lifecycle operations.
type StatePatch struct {
	Active    *bool          `json:"active,omitempty"`
	Message   *string        `json:"message,omitempty"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

type Options struct {
	DB            *gorm.DB
	Pipeline      *manifest.Pipeline
	Codec         *security.Codec
	Resolver      *k8s.Service
	Clients       k8s.Factory
	HealthyPhases []string
	PollTimeout   time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Controller owns every operation that touches a platform's cluster resources or state row.
type Controller struct {
	db          *gorm.DB
	pipeline    *manifest.Pipeline
	codec       *security.Codec
	resolver    *k8s.Service
	clients     k8s.Factory
	healthy     platform.PhaseMatcher
	pollTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	hooks    *Hooks
	inflight *inflight

	mu        sync.RWMutex
	listeners []func(StateEvent)
}

func New(opts Options) (*Controller, error) {
	if opts.DB == nil || opts.Pipeline == nil || opts.Codec == nil || opts.Resolver == nil || opts.Clients == nil {
		return nil, errors.New("lifecycle: db, pipeline, codec, resolver and client factory are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		db:          opts.DB,
		pipeline:    opts.Pipeline,
		codec:       opts.Codec,
		resolver:    opts.Resolver,
		clients:     opts.Clients,
		healthy:     platform.PhaseMatcher(opts.HealthyPhases),
		pollTimeout: opts.PollTimeout,
		logger:      logger.With("component", "lifecycle"),
		now:         opts.Now,
		hooks:       NewHooks(logger),
		inflight:    newInflight(),
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = defaultPollTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if len(c.healthy) == 0 {
		c.healthy = platform.PhaseMatcher{"Cluster in healthy state"}
	}
	c.registerHooks()
	if err := c.hooks.Seal(); err != nil {
		return nil, err
	}
	return c, nil
}

// Hooks exposes the hook set so callers can add steps at startup; call Seal afterwards.
func (c *Controller) Hooks() *Hooks { return c.hooks }

func (c *Controller) OnStateChange(fn func(StateEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) notify(kind platform.Kind, st *models.PlatformState) {
	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	ev := StateEvent{Kind: kind.Name(), PlatformID: st.PlatformID, Status: st.Status, Active: st.Active, Message: st.Message}
	for _, fn := range listeners {
		fn(ev)
	}
}

func key(kind platform.Kind, id uint) string {
	return fmt.Sprintf("%s/%d", kind.Name(), id)
}

// List returns the platforms of kind, optionally limited to one project.
func (c *Controller) List(ctx context.Context, kind platform.Kind, projectID uint) ([]models.Platform, error) {
	db := database.Conn(ctx, c.db)
	if projectID != 0 {
		db = db.Where("project_id = ?", projectID)
	}
	return kind.Find(db.Order("id ASC"))
}

func (c *Controller) Load(ctx context.Context, kind platform.Kind, id uint) (models.Platform, error) {
	p := kind.New()
	if err := database.Conn(ctx, c.db).First(p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s platform %d", apperrors.ErrResourceNotFound, kind.Name(), id)
		}
		return nil, err
	}
	return p, nil
}

// ActiveIDs lists the platforms of kind whose state is active.
func (c *Controller) ActiveIDs(ctx context.Context, kind platform.Kind) ([]uint, error) {
	var ids []uint
	err := database.Conn(ctx, c.db).
		Table(kind.StateTable()).
		Where("active = ?", true).
		Order("platform_id ASC").
		Pluck("platform_id", &ids).Error
	return ids, err
}

func (c *Controller) Create(ctx context.Context, kind platform.Kind, p models.Platform) error {
	return database.WithTx(ctx, c.db, func(ctx context.Context) error {
		if err := c.hooks.Run(ctx, EventBeforeCreate, &Record{Kind: kind, Platform: p}); err != nil {
			return err
		}
		return database.Conn(ctx, c.db).Create(p).Error
	})
}

// Update saves p and, once committed, runs the after-update hooks. An active platform is
// redeployed there, so a cluster failure is reported after the record change is already stored.
func (c *Controller) Update(ctx context.Context, kind platform.Kind, p models.Platform) error {
	rec := &Record{Kind: kind, Platform: p}
	err := database.WithTx(ctx, c.db, func(ctx context.Context) error {
		if err := c.hooks.Run(ctx, EventBeforeUpdate, rec); err != nil {
			return err
		}
		return database.Conn(ctx, c.db).Save(p).Error
	})
	if err != nil {
		return err
	}
	return c.hooks.Run(ctx, EventAfterUpdate, rec)
}

// Delete removes the platform. Decommission of an active platform and removal of its state row
// happen in the same transaction as the record delete.
func (c *Controller) Delete(ctx context.Context, kind platform.Kind, id uint, confirmation string) error {
	k := key(kind, id)
	if err := c.inflight.Acquire(ctx, k); err != nil {
		return err
	}
	defer c.inflight.Release(k)

	return database.WithTx(ctx, c.db, func(ctx context.Context) error {
		p, err := c.Load(ctx, kind, id)
		if err != nil {
			return err
		}
		if err := c.hooks.Run(ctx, EventBeforeDelete, &Record{Kind: kind, Platform: p, Confirmation: confirmation}); err != nil {
			return err
		}
		return database.Conn(ctx, c.db).Delete(p).Error
	})
}

// State returns the state row, or nil when the platform has none yet.
func (c *Controller) State(ctx context.Context, kind platform.Kind, id uint) (*models.PlatformState, error) {
	var st models.PlatformState
	err := database.Conn(ctx, c.db).Table(kind.StateTable()).Where("platform_id = ?", id).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Controller) saveState(ctx context.Context, kind platform.Kind, st *models.PlatformState) error {
	var count int64
	if err := database.Conn(ctx, c.db).Table(kind.StateTable()).Where("platform_id = ?", st.PlatformID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return database.Conn(ctx, c.db).Table(kind.StateTable()).Create(st).Error
	}
	return database.Conn(ctx, c.db).Table(kind.StateTable()).Save(st).Error
}

// SetActive applies a partial state update. Turning a platform on deploys and polls it; turning
// it off requires the resource name confirmation and decommissions it. Message and extra data are
// written only once the transition succeeded.
func (c *Controller) SetActive(ctx context.Context, kind platform.Kind, id uint, patch StatePatch, confirmation string) (*models.PlatformState, error) {
	k := key(kind, id)
	if err := c.inflight.Acquire(ctx, k); err != nil {
		return nil, err
	}
	defer c.inflight.Release(k)

	p, err := c.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	st, err := c.State(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = models.NewPlatformState(id)
	}

	switch {
	case patch.Active == nil:
	case *patch.Active:
		if err := c.deploy(ctx, kind, p); err != nil {
			return nil, apperrors.AsDeployFailure(err)
		}
		if err := c.markActive(ctx, kind, id); err != nil {
			return nil, err
		}
		if st, err = c.poll(ctx, kind, id); err != nil {
			return nil, err
		}
	case st.Active:
		if err := confirm(p, confirmation); err != nil {
			return nil, err
		}
		if err := c.decommission(ctx, kind, p); err != nil {
			return nil, err
		}
		if st, err = c.State(ctx, kind, id); err != nil {
			return nil, err
		}
	}
	return c.applyPatch(ctx, kind, st, patch)
}

func (c *Controller) applyPatch(ctx context.Context, kind platform.Kind, st *models.PlatformState, patch StatePatch) (*models.PlatformState, error) {
	if patch.Message == nil && patch.ExtraData == nil {
		return st, nil
	}
	if patch.Message != nil {
		st.Message = *patch.Message
	}
	if patch.ExtraData != nil {
		st.ExtraData = patch.ExtraData
	}
	if err := c.saveState(ctx, kind, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Deploy applies the platform's manifests and polls it right after.
func (c *Controller) Deploy(ctx context.Context, kind platform.Kind, id uint) (*models.PlatformState, error) {
	k := key(kind, id)
	if err := c.inflight.Acquire(ctx, k); err != nil {
		return nil, err
	}
	defer c.inflight.Release(k)

	p, err := c.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := c.deploy(ctx, kind, p); err != nil {
		return nil, err
	}
	return c.poll(ctx, kind, id)
}

func (c *Controller) Decommission(ctx context.Context, kind platform.Kind, id uint, confirmation string) (*models.PlatformState, error) {
	k := key(kind, id)
	if err := c.inflight.Acquire(ctx, k); err != nil {
		return nil, err
	}
	defer c.inflight.Release(k)

	p, err := c.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := confirm(p, confirmation); err != nil {
		return nil, err
	}
	if err := c.decommission(ctx, kind, p); err != nil {
		return nil, err
	}
	return c.State(ctx, kind, id)
}

// PollStatus observes the platform and stores the result, waiting for any running operation
// on the same platform first.
func (c *Controller) PollStatus(ctx context.Context, kind platform.Kind, id uint) (*models.PlatformState, error) {
	k := key(kind, id)
	if err := c.inflight.Acquire(ctx, k); err != nil {
		return nil, err
	}
	defer c.inflight.Release(k)
	return c.poll(ctx, kind, id)
}

// PollIfIdle polls unless another operation on the platform is in flight. It reports whether a
// poll ran.
func (c *Controller) PollIfIdle(ctx context.Context, kind platform.Kind, id uint) (bool, error) {
	k := key(kind, id)
	if !c.inflight.TryAcquire(k) {
		metrics.PollSkippedTotal.WithLabelValues(kind.Name()).Inc()
		return false, nil
	}
	defer c.inflight.Release(k)
	_, err := c.poll(ctx, kind, id)
	return true, err
}

// Manifest renders the platform's templates without touching the cluster.
func (c *Controller) Manifest(ctx context.Context, kind platform.Kind, id uint) (string, error) {
	p, err := c.Load(ctx, kind, id)
	if err != nil {
		return "", err
	}
	target, err := c.resolver.Resolve(ctx, p.Common())
	if err != nil {
		return "", err
	}
	res, err := c.render(ctx, kind, p, target)
	if err != nil {
		return "", err
	}
	return res.Manifest, nil
}

func (c *Controller) render(ctx context.Context, kind platform.Kind, p models.Platform, target *k8s.Target) (*manifest.Result, error) {
	related, err := kind.RelatedVariables(ctx, database.Conn(ctx, c.db), c.codec, p)
	if err != nil {
		return nil, err
	}
	vars, err := platform.Variables(p, related, target.Namespace)
	if err != nil {
		return nil, err
	}
	return c.pipeline.Render(kind.Name(), vars)
}

// deploy applies every rendered document in order. The first hard error aborts; resources
// applied before it stay in place.
func (c *Controller) deploy(ctx context.Context, kind platform.Kind, p models.Platform) (err error) {
	base := p.Common()
	log := c.logger.With("kind", kind.Name(), "platform_id", base.ID, "name", base.Name)
	defer func() {
		result := "success"
		if err != nil {
			result = "failed"
			log.Warn("deploy failed", "error", err)
		}
		metrics.DeployTotal.WithLabelValues(kind.Name(), result).Inc()
	}()

	target, err := c.resolver.Resolve(ctx, base)
	if err != nil {
		return err
	}
	res, err := c.render(ctx, kind, p, target)
	if err != nil {
		return err
	}
	client, err := c.clients(target.Kubeconfig)
	if err != nil {
		return err
	}
	for _, doc := range res.Documents {
		outcome, err := client.Apply(ctx, doc, target.Namespace)
		if err != nil {
			return err
		}
		log.Debug("resource applied", "resource_kind", doc.GetKind(), "resource", doc.GetName(), "outcome", string(outcome))
	}

	var st *models.PlatformState
	err = database.WithTx(ctx, c.db, func(ctx context.Context) error {
		if st, err = c.State(ctx, kind, base.ID); err != nil {
			return err
		}
		if st == nil {
			st = models.NewPlatformState(base.ID)
		}
		st.Status = deployedStatus(st.Status)
		return c.saveState(ctx, kind, st)
	})
	if err != nil {
		return err
	}
	c.notify(kind, st)
	log.Info("platform deployed", "namespace", target.Namespace, "resources", len(res.Documents))
	return nil
}

func (c *Controller) markActive(ctx context.Context, kind platform.Kind, id uint) error {
	return database.WithTx(ctx, c.db, func(ctx context.Context) error {
		st, err := c.State(ctx, kind, id)
		if err != nil {
			return err
		}
		if st == nil {
			st = models.NewPlatformState(id)
		}
		st.Active = true
		return c.saveState(ctx, kind, st)
	})
}

// decommission deletes the rendered resources in reverse order and resets the state. A platform
// without a kubeconfig is only marked offline locally.
func (c *Controller) decommission(ctx context.Context, kind platform.Kind, p models.Platform) (err error) {
	base := p.Common()
	log := c.logger.With("kind", kind.Name(), "platform_id", base.ID, "name", base.Name)
	result := "success"
	defer func() {
		if err != nil {
			result = "failed"
			log.Warn("decommission failed", "error", err)
		}
		metrics.DecommissionTotal.WithLabelValues(kind.Name(), result).Inc()
	}()

	target, err := c.resolver.Resolve(ctx, base)
	switch {
	case errors.Is(err, apperrors.ErrNoKubeconfig):
		result = "local"
		log.Info("no kubeconfig, marking platform offline without cluster cleanup")
		return c.writeDecommissioned(ctx, kind, base.ID)
	case err != nil:
		return err
	}

	res, err := c.render(ctx, kind, p, target)
	if err != nil {
		return err
	}
	client, err := c.clients(target.Kubeconfig)
	if err != nil {
		return err
	}
	for i := len(res.Documents) - 1; i >= 0; i-- {
		doc := res.Documents[i]
		outcome, err := client.Delete(ctx, doc, target.Namespace)
		if err != nil {
			return err
		}
		log.Debug("resource deleted", "resource_kind", doc.GetKind(), "resource", doc.GetName(), "outcome", string(outcome))
	}
	if err := c.writeDecommissioned(ctx, kind, base.ID); err != nil {
		return err
	}
	log.Info("platform decommissioned", "namespace", target.Namespace, "resources", len(res.Documents))
	return nil
}

func (c *Controller) writeDecommissioned(ctx context.Context, kind platform.Kind, id uint) error {
	var st *models.PlatformState
	err := database.WithTx(ctx, c.db, func(ctx context.Context) error {
		var err error
		if st, err = c.State(ctx, kind, id); err != nil {
			return err
		}
		if st == nil {
			st = models.NewPlatformState(id)
		}
		st.Decommissioned()
		return c.saveState(ctx, kind, st)
	})
	if err != nil {
		return err
	}
	c.notify(kind, st)
	return nil
}

func (c *Controller) poll(ctx context.Context, kind platform.Kind, id uint) (*models.PlatformState, error) {
	p, err := c.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	observed, err := c.observe(ctx, kind, p)
	metrics.PollDurationSeconds.WithLabelValues(kind.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.PollTotal.WithLabelValues(kind.Name(), observed.Status).Inc()

	var saved *models.PlatformState
	err = database.WithTx(ctx, c.db, func(ctx context.Context) error {
		if _, err := c.Load(ctx, kind, id); err != nil {
			return err
		}
		prev, err := c.State(ctx, kind, id)
		if err != nil {
			return err
		}
		if prev != nil {
			if !CanTransition(prev.Status, observed.Status, TriggerPoll) {
				c.logger.Debug("poll result dropped", "kind", kind.Name(), "platform_id", id, "from", prev.Status, "to", observed.Status)
				saved = prev
				return nil
			}
			observed.UUID = prev.UUID
			observed.CreatedAt = prev.CreatedAt
			observed.Active = prev.Active
			if observed.LastHeartbeat == nil {
				observed.LastHeartbeat = prev.LastHeartbeat
			}
		}
		if err := c.saveState(ctx, kind, observed); err != nil {
			return err
		}
		saved = observed
		return nil
	})
	if err != nil {
		return nil, err
	}
	if saved == observed {
		c.notify(kind, saved)
	}
	return saved, nil
}

// observe builds the state from the cluster. Unreachable clusters and missing credentials become
// an error state; only an invalid kubeconfig or a database failure is returned as error.
func (c *Controller) observe(ctx context.Context, kind platform.Kind, p models.Platform) (*models.PlatformState, error) {
	base := p.Common()
	failed := func(msg string) *models.PlatformState {
		st := models.NewPlatformState(base.ID)
		st.Status = models.StatusError
		st.Message = msg
		return st
	}

	target, err := c.resolver.Resolve(ctx, base)
	switch {
	case errors.Is(err, apperrors.ErrConfigInvalid):
		return nil, err
	case errors.Is(err, apperrors.ErrNoKubeconfig),
		errors.Is(err, apperrors.ErrSecretUnreadable),
		errors.Is(err, apperrors.ErrResourceNotFound):
		return failed(err.Error()), nil
	case err != nil:
		return nil, err
	}

	client, err := c.clients(target.Kubeconfig)
	if err != nil {
		if errors.Is(err, apperrors.ErrConfigInvalid) {
			return nil, err
		}
		return failed(err.Error()), nil
	}

	pctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	st, err := kind.BuildState(pctx, platform.Observation{
		Cluster:   client,
		Namespace: target.Namespace,
		Codec:     c.codec,
		Healthy:   c.healthy,
		Now:       c.now(),
	}, p)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return failed("poll deadline exceeded"), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func confirm(p models.Platform, confirmation string) error {
	confirmation = strings.TrimSpace(confirmation)
	switch {
	case confirmation == "":
		return apperrors.WithDetail(apperrors.ErrDecommissionUnconfirmed, msgConfirmMissing)
	case confirmation != p.Common().Name:
		return apperrors.WithDetail(apperrors.ErrDecommissionUnconfirmed, msgConfirmMismatch)
	}
	return nil
}
