package supervisor

import (
	"context"
	"fmt"
	"time"
)

const (
	// monitorInterval is how often child liveness is probed.
	monitorInterval = 5 * time.Second

	// maxRestarts bounds automatic restarts per child between explicit
	// Start calls.
	maxRestarts = 3
)

// Monitor probes the children and restarts any that died, up to maxRestarts
// each. It blocks until ctx is cancelled (returns nil) or a child exhausts
// its restart budget (returns an error; the caller decides the exit code).
func (s *Supervisor) Monitor(ctx context.Context) error {
	restarts := map[string]int{}
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s.mu.Lock()
		running := s.state == StateRunning || s.state == StatePartial
		gatewayDead := running && s.gateway != nil && !alive(s.gateway.pid)
		bridgeDead := running && s.bridge != nil && !alive(s.bridge.pid)
		s.mu.Unlock()

		if !running {
			continue
		}

		if bridgeDead {
			if err := s.restart("bridge", restarts); err != nil {
				return err
			}
		}
		if gatewayDead {
			if err := s.restart("gateway", restarts); err != nil {
				return err
			}
		}
		if bridgeDead || gatewayDead {
			s.setState(s.liveState())
		}
	}
}

// restart respawns one dead child, charging its restart budget.
func (s *Supervisor) restart(role string, restarts map[string]int) error {
	restarts[role]++
	if restarts[role] > maxRestarts {
		return fmt.Errorf("supervisor: %s exited %d times, giving up", role, restarts[role]-1)
	}

	s.logger.Warn("child died, restarting", "role", role, "attempt", restarts[role])
	c, err := s.spawn(role)
	if err != nil {
		return fmt.Errorf("supervisor: restart %s: %w", role, err)
	}

	s.mu.Lock()
	if role == "gateway" {
		s.gateway = c
	} else {
		s.bridge = c
	}
	s.mu.Unlock()
	return nil
}
