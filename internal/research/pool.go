package research

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/toolserver"
)

// Pool owns the tool-server sessions the stages call into, keyed by server
// name. All sessions start together and live for the daemon's lifetime.
type Pool struct {
	log      *slog.Logger
	sessions map[string]*toolserver.Session
}

// NewPool spawns a session per config and runs their handshakes in
// parallel. If any server fails to come up, the ones that did are torn down
// and the error is returned.
func NewPool(ctx context.Context, configs []toolserver.ServerConfig, log *slog.Logger) (*Pool, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		log:      log,
		sessions: make(map[string]*toolserver.Session, len(configs)),
	}

	for _, cfg := range configs {
		if _, dup := p.sessions[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate tool server name %q", cfg.Name)
		}
		p.sessions[cfg.Name] = toolserver.NewSession(cfg, log)
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, sess := range p.sessions {
		name, sess := name, sess
		g.Go(func() error {
			if err := sess.Start(gctx); err != nil {
				return fmt.Errorf("tool server %q: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Session returns the session for a server name.
func (p *Pool) Session(name string) (*toolserver.Session, error) {
	sess, ok := p.sessions[name]
	if !ok {
		return nil, fmt.Errorf("no tool server named %q", name)
	}
	return sess, nil
}

// Invokers exposes the sessions as stage invokers keyed by server name,
// the shape NewManager wants.
func (p *Pool) Invokers() map[string]Invoker {
	out := make(map[string]Invoker, len(p.sessions))
	for name, sess := range p.sessions {
		out[name] = sess
	}
	return out
}

// Close shuts every session down.
func (p *Pool) Close() {
	for name, sess := range p.sessions {
		if err := sess.Close(); err != nil {
			p.log.Warn("closing tool server", "server", name, "error", err)
		}
	}
}
