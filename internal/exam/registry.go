package exam

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/formedic/examproctor/internal/draft"
	"github.com/formedic/examproctor/internal/portal"
)

// Registry keeps one controller per assignment and owns the periodic expiry
// sweep. Each trainee client drives exactly one assignment at a time; the
// registry only exists because the HTTP surface serves several of them.
type Registry struct {
	mu          sync.Mutex
	portal      portal.Client
	drafts      *draft.Store
	logger      *slog.Logger
	controllers map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry(p portal.Client, d *draft.Store) *Registry {
	return &Registry{
		portal:      p,
		drafts:      d,
		logger:      slog.Default(),
		controllers: make(map[string]*Controller),
	}
}

// Controller returns the controller for an assignment, creating and caching
// one (which fetches the exercise) on first use.
func (r *Registry) Controller(ctx context.Context, exerciseID, assignmentID string) (*Controller, error) {
	r.mu.Lock()
	if c, ok := r.controllers[assignmentID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	// The exercise fetch happens outside the registry lock.
	c, err := NewController(ctx, r.portal, r.drafts, exerciseID, assignmentID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.controllers[assignmentID]; ok {
		return existing, nil
	}
	r.controllers[assignmentID] = c
	return c, nil
}

// Lookup returns a cached controller without creating one.
func (r *Registry) Lookup(assignmentID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[assignmentID]
	return c, ok
}

// Sweep runs one expiry pass: every in-progress controller gets a tick and
// the draft store drops overdue rows.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.Unlock()

	for _, c := range controllers {
		if _, err := c.Tick(); err != nil {
			r.logger.Error("expiry tick failed", "assignment_id", c.assignmentID, "error", err)
		}
	}
	if n, err := r.drafts.SweepExpired(now); err != nil {
		r.logger.Error("draft sweep failed", "error", err)
	} else if n > 0 {
		r.logger.Info("swept expired drafts", "count", n)
	}
}

// Run ticks the sweep at the given interval until the context is done.
// The interval must grant at least one check per minute of wall-clock time.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}
