package host

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"agenthost/internal/domain"
)

// Construction is handed to a role's factory while its agent is being built.
// It is only usable for the duration of the factory call.
type Construction struct {
	loader *Loader
	self   domain.AgentView
	req    Requestor
	logger *slog.Logger
	sealed atomic.Bool

	mu       sync.Mutex
	children []*pending
}

// Self is the agent under construction. Its Seq is -1 until admission.
func (c *Construction) Self() domain.AgentView { return c.self }

// Logger is scoped to the agent under construction.
func (c *Construction) Logger() *slog.Logger { return c.logger }

// Spawn asks the loader for another agent. The request is authorized against
// the role of the agent under construction. Spawn fails with ErrInvalidState
// once the factory has returned.
//
// The returned handle is inert until the outermost Create succeeds; if any
// factory in the tree fails, no agent of the tree is admitted.
func (c *Construction) Spawn(ctx context.Context, role domain.Role) (*Handle, error) {
	if c.sealed.Load() {
		return nil, domain.NewDomainError("Construction.Spawn", domain.ErrInvalidState, "construction already finished")
	}
	child, err := c.loader.create(ctx, role, c.req)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.children = append(c.children, child)
	c.mu.Unlock()
	return child.handle, nil
}

func (c *Construction) seal() []*pending {
	c.sealed.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.children
}
