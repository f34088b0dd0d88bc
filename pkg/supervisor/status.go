package supervisor

import "time"

// Status is the externally visible supervisor snapshot. Every read rechecks
// child liveness so a crashed child shows up without waiting for a poll.
type Status struct {
	State         State `json:"state"`
	Running       bool  `json:"running"`
	Port          int   `json:"port"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
	GatewayPID    int   `json:"gatewayPid,omitempty"`
	BridgePID     int   `json:"bridgePid,omitempty"`
}

// Status reports the current lifecycle state and child PIDs.
func (s *Supervisor) Status() *Status {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	// Transient states are authoritative; steady states are re-derived from
	// liveness in case a child died since the last read.
	if st == StateRunning || st == StatePartial {
		if live := s.liveState(); live != st {
			s.setState(live)
			st = live
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := &Status{
		State:   st,
		Running: st == StateRunning || st == StatePartial,
		Port:    s.cfg.Server.Port,
	}
	if !s.startedAt.IsZero() && out.Running {
		out.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	if s.gateway != nil {
		out.GatewayPID = s.gateway.pid
	}
	if s.bridge != nil {
		out.BridgePID = s.bridge.pid
	}
	return out
}
