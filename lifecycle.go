package retropricer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Jondude1/retro-pricer/cache"
	snapshot "github.com/Jondude1/retro-pricer/pkg/response-snapshot"
)

// State is the lifecycle state of an agent instance.
type State string

const (
	StateUninstalled   State = "uninstalled"
	StateInstalling    State = "installing"
	StateInstalled     State = "installed"
	StateActivating    State = "activating"
	StateActive        State = "active"
	StateInstallFailed State = "install-failed"
)

// State returns the current lifecycle state.
func (c *OfflineCache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *OfflineCache) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// generation returns the installed generation, or nil before a
// successful install.
func (c *OfflineCache) generation() cache.Generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Install opens the cache generation for the configured version and
// snapshots every shell path into it in one atomic write. Either the
// whole shell is stored or nothing is: on any failure the generation
// stays empty and the agent ends up in StateInstallFailed. Install may
// be retried after a failure.
func (c *OfflineCache) Install(ctx context.Context) error {
	c.setState(StateInstalling)
	gen, count, err := c.install(ctx)
	if err != nil {
		c.setState(StateInstallFailed)
		c.metrics.installs.WithLabelValues("failed").Inc()
		c.log.Error().Err(err).Msg("Install failed")
		return err
	}
	c.mu.Lock()
	c.gen = gen
	c.state = StateInstalled
	c.mu.Unlock()
	c.metrics.installs.WithLabelValues("ok").Inc()
	c.log.Info().Int("snapshots", count).Msg("Installed shell generation")
	return nil
}

func (c *OfflineCache) install(ctx context.Context) (cache.Generation, int, error) {
	gen, err := c.store.Open(c.version)
	if err != nil {
		return nil, 0, fmt.Errorf("open generation %s: %w", c.version, err)
	}
	snapshots := make([]cache.Snapshot, 0, len(c.shell))
	for _, path := range c.shell {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("shell entry %s: %w", path, err)
		}
		res, err := c.fetch(req)
		if err != nil {
			return nil, 0, fmt.Errorf("fetch shell entry %s: %w", path, err)
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			res.Body.Close()
			return nil, 0, fmt.Errorf("fetch shell entry %s: status %d", path, res.StatusCode)
		}
		bts, err := snapshot.ResponseToBytes(res)
		res.Body.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("snapshot shell entry %s: %w", path, err)
		}
		snapshots = append(snapshots, cache.Snapshot{
			Key:      req.URL.RequestURI(),
			Bytes:    bts,
			StoredAt: time.Now(),
		})
		c.log.Debug().Str("path", path).Msg("Snapshotted shell entry")
	}
	if err := gen.AddAll(snapshots); err != nil {
		return nil, 0, fmt.Errorf("store shell generation: %w", err)
	}
	return gen, len(snapshots), nil
}

// Activate sweeps stale generations from the store, leaving only the
// current version. The sweep is best effort: failures are logged and
// skipped, and the agent ends up active regardless. Activation is only
// valid after a successful install.
func (c *OfflineCache) Activate(ctx context.Context) error {
	if state := c.State(); state != StateInstalled {
		return fmt.Errorf("cannot activate from state %s", state)
	}
	c.setState(StateActivating)
	labels, err := c.store.Labels()
	if err != nil {
		c.log.Warn().Err(err).Msg("Could not list generations for sweeping")
	}
	swept := 0
	for _, label := range labels {
		if label == c.version {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.store.Delete(label); err != nil {
			c.log.Warn().Err(err).Str("generation", label).Msg("Could not delete stale generation")
			continue
		}
		c.metrics.sweptGenerations.Inc()
		c.log.Debug().Str("generation", label).Msg("Deleted stale generation")
		swept++
	}
	c.setState(StateActive)
	c.log.Info().Int("swept", swept).Msg("Activated")
	return nil
}
