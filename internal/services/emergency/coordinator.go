package emergency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"crisisguard/internal/allowlist"
	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
	"crisisguard/internal/workers/verifier"
)

var (
	// ErrPushIDReused means a client-supplied push id was sent again with a
	// different payload.
	ErrPushIDReused = errors.New("push id already used for a different push")
	// ErrEmergencyRelease rejects publishing an emergency-stamped version as a
	// regular release.
	ErrEmergencyRelease = errors.New("regular releases cannot carry an emergency version")
)

type Config struct {
	VerificationInterval time.Duration
	VerificationTimeout  time.Duration
	TargetPropagation    time.Duration
	// ReadTimeout bounds each verification read of the public allowlist.
	ReadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		VerificationInterval: 15 * time.Minute,
		VerificationTimeout:  60 * time.Minute,
		TargetPropagation:    30 * time.Minute,
		ReadTimeout:          30 * time.Second,
	}
}

type PushResult struct {
	Success                     bool   `json:"success"`
	PushID                      string `json:"pushId"`
	EntriesAdded                int    `json:"entriesAdded"`
	Message                     string `json:"message"`
	EstimatedPropagationMinutes int    `json:"estimatedPropagationMinutes"`
}

// Coordinator runs emergency pushes: it records them, writes the overrides
// every client will pick up on its next refresh, and then watches the public
// allowlist until the push is visible or the verification window closes.
type Coordinator struct {
	store   ports.EmergencyStore
	reader  ports.AllowlistFetcher
	alerter ports.Alerter
	logger  *zap.Logger
	clock   clockwork.Clock
	cfg     Config

	mu       sync.Mutex
	watching map[string]context.CancelFunc
	baseCtx  context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// New wires a coordinator. reader must read the same public path clients use.
func New(store ports.EmergencyStore, reader ports.AllowlistFetcher, alerter ports.Alerter, cfg Config, logger *zap.Logger, clock clockwork.Clock) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if alerter == nil {
		alerter = LogAlerter{Logger: logger}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    store,
		reader:   reader,
		alerter:  alerter,
		logger:   logger,
		clock:    clock,
		cfg:      cfg,
		watching: make(map[string]context.CancelFunc),
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// Push validates and applies an emergency push. Sending the same push id
// again returns the existing record's outcome without writing anything twice.
func (c *Coordinator) Push(ctx context.Context, req domain.PushRequest) (PushResult, error) {
	if err := domain.ValidatePushRequest(req); err != nil {
		return PushResult{}, err
	}
	id := req.PushID
	if id == "" {
		id = uuid.NewString()
	}
	rec := domain.EmergencyPushRecord{
		ID:        id,
		Entries:   req.Entries,
		Reason:    req.Reason,
		Operator:  req.Operator,
		Timestamp: c.clock.Now().UTC(),
		Status:    domain.PushPending,
	}
	created, err := c.store.CreatePush(ctx, rec)
	if err != nil {
		return PushResult{}, fmt.Errorf("create push: %w", err)
	}
	if !created {
		existing, err := c.store.GetPush(ctx, id)
		if err != nil {
			return PushResult{}, fmt.Errorf("load push %s: %w", id, err)
		}
		if !samePayload(existing, rec) {
			return PushResult{}, ErrPushIDReused
		}
		if existing.Status != domain.PushPending {
			c.logger.Info("emergency push replayed", zap.String("push_id", id), zap.String("status", string(existing.Status)))
			if existing.Status == domain.PushPropagated {
				c.watch(existing)
			}
			return c.result(existing, 0, "push already applied"), nil
		}
		rec = existing
	}

	inserted, rec, err := c.propagate(ctx, rec)
	if err != nil {
		return PushResult{}, err
	}
	c.logger.Info("emergency push propagated",
		zap.String("push_id", id),
		zap.Int("entries", len(rec.Entries)),
		zap.String("version", rec.EmergencyVersion),
		zap.String("operator", rec.Operator),
	)
	c.watch(rec)
	return c.result(rec, inserted, "emergency push propagated"), nil
}

func (c *Coordinator) propagate(ctx context.Context, rec domain.EmergencyPushRecord) (int, domain.EmergencyPushRecord, error) {
	base, err := c.store.CurrentRelease(ctx)
	if err != nil {
		return 0, rec, fmt.Errorf("current release: %w", err)
	}
	now := c.clock.Now().UTC()
	overrides := make([]domain.EmergencyOverrideEntry, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		overrides = append(overrides, domain.EmergencyOverrideEntry{
			CrisisResourceEntry: e,
			AddedAt:             now,
			Reason:              rec.Reason,
			PushID:              rec.ID,
		})
	}
	version := allowlist.EmergencyVersion(base.Version, rec.ID)
	inserted, err := c.store.MarkPropagated(ctx, rec.ID, overrides, version, now)
	if errors.Is(err, ports.ErrStatusConflict) {
		// a concurrent request for the same id got there first
		cur, gerr := c.store.GetPush(ctx, rec.ID)
		if gerr != nil {
			return 0, rec, fmt.Errorf("load push %s: %w", rec.ID, gerr)
		}
		return 0, cur, nil
	}
	if err != nil {
		return 0, rec, fmt.Errorf("propagate push %s: %w", rec.ID, err)
	}
	rec.Status = domain.PushPropagated
	rec.EmergencyVersion = version
	rec.PropagatedAt = &now
	return inserted, rec, nil
}

func (c *Coordinator) result(rec domain.EmergencyPushRecord, added int, msg string) PushResult {
	return PushResult{
		Success:                     rec.Status != domain.PushFailed,
		PushID:                      rec.ID,
		EntriesAdded:                added,
		Message:                     msg,
		EstimatedPropagationMinutes: int(c.cfg.TargetPropagation / time.Minute),
	}
}

func samePayload(a, b domain.EmergencyPushRecord) bool {
	if len(a.Entries) != len(b.Entries) || a.Reason != b.Reason {
		return false
	}
	for i := range a.Entries {
		if a.Entries[i].Domain != b.Entries[i].Domain || a.Entries[i].Category != b.Entries[i].Category {
			return false
		}
	}
	return true
}

func (c *Coordinator) Get(ctx context.Context, id string) (domain.EmergencyPushRecord, error) {
	return c.store.GetPush(ctx, id)
}

// List returns the most recent pushes first.
func (c *Coordinator) List(ctx context.Context, limit int) ([]domain.EmergencyPushRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return c.store.ListPushes(ctx, limit)
}

// Document is the public allowlist: the current release plus overrides in
// effect. Clients merge the two themselves.
func (c *Coordinator) Document(ctx context.Context) (domain.AllowlistDocument, error) {
	base, err := c.store.CurrentRelease(ctx)
	if err != nil {
		return domain.AllowlistDocument{}, fmt.Errorf("current release: %w", err)
	}
	overrides, err := c.store.ListOverrides(ctx)
	if err != nil {
		return domain.AllowlistDocument{}, fmt.Errorf("list overrides: %w", err)
	}
	return domain.AllowlistDocument{Allowlist: base, Overrides: overrides}, nil
}

// Bootstrap publishes initial as the first release when none exists yet.
func (c *Coordinator) Bootstrap(ctx context.Context, initial domain.Allowlist) error {
	_, err := c.store.CurrentRelease(ctx)
	if !errors.Is(err, ports.ErrNotFound) {
		return err
	}
	if err := c.store.PublishRelease(ctx, initial); err != nil {
		return fmt.Errorf("publish initial release: %w", err)
	}
	c.logger.Info("published initial allowlist release", zap.String("version", initial.Version))
	return nil
}

// Supersede publishes a regular release and drops the overrides it now
// covers with the same category. It returns how many overrides were pruned.
func (c *Coordinator) Supersede(ctx context.Context, release domain.Allowlist) (int, error) {
	if err := domain.ValidateAllowlist(release); err != nil {
		return 0, err
	}
	if allowlist.IsEmergencyVersion(release.Version) {
		return 0, ErrEmergencyRelease
	}
	if release.LastUpdated.IsZero() {
		release.LastUpdated = c.clock.Now().UTC()
	}
	if err := c.store.PublishRelease(ctx, release); err != nil {
		return 0, fmt.Errorf("publish release %s: %w", release.Version, err)
	}
	overrides, err := c.store.ListOverrides(ctx)
	if err != nil {
		return 0, fmt.Errorf("list overrides: %w", err)
	}
	sub := allowlist.Subsumed(release, overrides)
	if len(sub) == 0 {
		return 0, nil
	}
	keys := make([]ports.OverrideKey, 0, len(sub))
	for _, o := range sub {
		keys = append(keys, ports.OverrideKey{PushID: o.PushID, Domain: o.Domain})
	}
	if err := c.store.DeleteOverrides(ctx, keys); err != nil {
		return 0, fmt.Errorf("prune overrides: %w", err)
	}
	c.logger.Info("release published", zap.String("version", release.Version), zap.Int("overrides_pruned", len(keys)))
	return len(keys), nil
}

// Resume picks up pushes interrupted by a restart: pending ones are
// propagated and propagated ones are watched again.
func (c *Coordinator) Resume(ctx context.Context) error {
	pending, err := c.store.ListPushesByStatus(ctx, domain.PushPending)
	if err != nil {
		return fmt.Errorf("list pending pushes: %w", err)
	}
	for _, rec := range pending {
		_, propagatedRec, err := c.propagate(ctx, rec)
		if err != nil {
			c.logger.Error("resume push", zap.String("push_id", rec.ID), zap.Error(err))
			continue
		}
		c.watch(propagatedRec)
	}
	propagated, err := c.store.ListPushesByStatus(ctx, domain.PushPropagated)
	if err != nil {
		return fmt.Errorf("list propagated pushes: %w", err)
	}
	for _, rec := range propagated {
		c.watch(rec)
	}
	if n := len(pending) + len(propagated); n > 0 {
		c.logger.Info("resumed emergency push verification", zap.Int("pushes", n))
	}
	return nil
}

// Check implements verifier.Checker. A push is verified once every pushed
// domain is visible on the public allowlist with its pushed category, and
// failed once the verification window has passed without that happening.
func (c *Coordinator) Check(ctx context.Context, id string) (bool, error) {
	rec, err := c.store.GetPush(ctx, id)
	if err != nil {
		return errors.Is(err, ports.ErrNotFound), err
	}
	if rec.Status != domain.PushPropagated {
		return rec.Status.Terminal(), nil
	}

	rctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	doc, readErr := c.reader.Fetch(rctx)
	cancel()
	now := c.clock.Now().UTC()
	if readErr == nil && visible(doc, rec.Entries) {
		if err := c.store.MarkVerified(ctx, id, now); err != nil && !errors.Is(err, ports.ErrStatusConflict) {
			return false, err
		}
		fields := []zap.Field{zap.String("push_id", id)}
		if rec.PropagatedAt != nil {
			fields = append(fields, zap.Duration("after", now.Sub(*rec.PropagatedAt)))
		}
		c.logger.Info("emergency push verified", fields...)
		return true, nil
	}

	if rec.PropagatedAt != nil && now.Sub(*rec.PropagatedAt) >= c.cfg.VerificationTimeout {
		reason := fmt.Sprintf("not visible on the public allowlist after %s", c.cfg.VerificationTimeout)
		if readErr != nil {
			reason += ": " + readErr.Error()
		}
		if err := c.store.MarkFailed(ctx, id, reason); err != nil {
			if errors.Is(err, ports.ErrStatusConflict) {
				return true, nil
			}
			return false, err
		}
		rec.Status = domain.PushFailed
		rec.FailureReason = &reason
		if err := c.alerter.PushFailed(ctx, rec); err != nil {
			c.logger.Error("alert on failed push", zap.String("push_id", id), zap.Error(err))
		}
		return true, nil
	}
	return false, readErr
}

func visible(doc domain.AllowlistDocument, entries []domain.CrisisResourceEntry) bool {
	merged := allowlist.Merge(doc.Allowlist, doc.Overrides)
	categories := make(map[string]domain.Category, len(merged.Entries))
	for _, e := range merged.Entries {
		categories[e.Domain] = e.Category
	}
	for _, e := range entries {
		if cat, ok := categories[e.Domain]; !ok || cat != e.Category {
			return false
		}
	}
	return true
}

// watch starts verification for a propagated push. Polling stops at the
// verification deadline even when the interval does not divide it.
func (c *Coordinator) watch(rec domain.EmergencyPushRecord) {
	id := rec.ID
	var deadline time.Time
	if rec.PropagatedAt != nil {
		deadline = rec.PropagatedAt.Add(c.cfg.VerificationTimeout)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watching[id]; ok || c.baseCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.watching[id] = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.watching, id)
			c.mu.Unlock()
			cancel()
		}()
		verifier.Run(ctx, c, id, c.cfg.VerificationInterval, deadline, c.clock, c.logger)
	}()
}

// Watching reports how many pushes are currently being verified.
func (c *Coordinator) Watching() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watching)
}

// Shutdown stops every verification loop and waits for them to exit.
func (c *Coordinator) Shutdown() {
	c.stop()
	c.wg.Wait()
}
