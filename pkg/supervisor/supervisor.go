// Package supervisor spawns and monitors the gateway and web-chat bridge as
// child processes of the control plane. The children are the same binary
// re-invoked with a subcommand, so one install unit carries all three roles.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/config"
)

// State is the supervisor lifecycle state.
type State string

// Lifecycle states. partial means one child is up and the other is not.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StatePartial  State = "partial"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

const (
	// readinessInterval is how often the bridge health endpoint is polled
	// during startup.
	readinessInterval = 500 * time.Millisecond

	// readinessWindow bounds the bridge readiness wait. The gateway is
	// spawned when it elapses regardless; requests needing the bridge then
	// surface provider-level errors.
	readinessWindow = 15 * time.Second

	// killGrace is how long a child gets between SIGTERM and SIGKILL.
	killGrace = 2 * time.Second
)

// Supervisor owns the two child processes.
type Supervisor struct {
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger

	// onState, when set, observes every state transition. The control plane
	// uses it to broadcast proxy:status events.
	onState func(State)

	mu        sync.Mutex
	state     State
	gateway   *child
	bridge    *child
	startedAt time.Time
}

// child is one tracked process.
type child struct {
	name string
	cmd  *exec.Cmd
	pid  int
}

// New creates a supervisor. cfgPath is forwarded to the children so all
// three processes read the same configuration file; it may be empty.
func New(cfg *config.Config, cfgPath string) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		cfgPath: cfgPath,
		logger:  slog.Default().With("component", "supervisor"),
		state:   StateStopped,
	}
}

// OnStateChange registers a state transition observer. Must be called
// before Start.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.onState = fn
}

// setState transitions the lifecycle state and notifies the observer.
func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	fn := s.onState
	s.mu.Unlock()

	if changed {
		s.logger.Info("state changed", "state", string(st))
		if fn != nil {
			fn(st)
		}
	}
}

// Start brings up the bridge, waits for its readiness (bounded), then the
// gateway. Calling Start while already running is an error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting || s.state == StatePartial {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: already %s", s.state)
	}
	s.mu.Unlock()

	s.setState(StateStarting)
	s.freePort(s.cfg.Bridge.Port)
	s.freePort(s.cfg.Server.Port)

	bridge, err := s.spawn("bridge")
	if err != nil {
		s.setState(StateError)
		return fmt.Errorf("supervisor: spawn bridge: %w", err)
	}
	s.mu.Lock()
	s.bridge = bridge
	s.mu.Unlock()

	if !s.awaitBridgeReady(ctx) {
		s.logger.Warn("bridge not ready within window, starting gateway anyway",
			"window", readinessWindow.String())
	}

	gateway, err := s.spawn("gateway")
	if err != nil {
		s.setState(StateError)
		s.stopChild(bridge)
		return fmt.Errorf("supervisor: spawn gateway: %w", err)
	}

	s.mu.Lock()
	s.gateway = gateway
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.setState(s.liveState())
	return nil
}

// Stop terminates both children: SIGTERM, a short grace period, SIGKILL for
// survivors. PIDs and uptime are always reset.
func (s *Supervisor) Stop() {
	s.setState(StateStopping)

	s.mu.Lock()
	gateway, bridge := s.gateway, s.bridge
	s.gateway, s.bridge = nil, nil
	s.startedAt = time.Time{}
	s.mu.Unlock()

	s.stopChild(gateway)
	s.stopChild(bridge)
	s.setState(StateStopped)
}

// spawn re-invokes this binary with the given subcommand.
func (s *Supervisor) spawn(role string) (*child, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	args := []string{role}
	if s.cfgPath != "" {
		args = append(args, "--config", s.cfgPath)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	// Reap the child when it exits so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()

	s.logger.Info("spawned child", "role", role, "pid", cmd.Process.Pid)
	return &child{name: role, cmd: cmd, pid: cmd.Process.Pid}, nil
}

// stopChild terminates one child, escalating from SIGTERM to SIGKILL.
func (s *Supervisor) stopChild(c *child) {
	if c == nil || !alive(c.pid) {
		return
	}

	s.logger.Info("stopping child", "role", c.name, "pid", c.pid)
	_ = syscall.Kill(c.pid, syscall.SIGTERM)

	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if !alive(c.pid) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	s.logger.Warn("child survived grace period, killing", "role", c.name, "pid", c.pid)
	_ = syscall.Kill(c.pid, syscall.SIGKILL)
}

// awaitBridgeReady polls the bridge health endpoint until it answers or the
// readiness window elapses.
func (s *Supervisor) awaitBridgeReady(ctx context.Context) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d/health", s.cfg.Bridge.Port)
	client := &http.Client{Timeout: readinessInterval}
	deadline := time.Now().Add(readinessWindow)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(readinessInterval):
		}

		resp, err := client.Get(url)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			s.logger.Info("bridge ready")
			return true
		}
	}
	return false
}

// freePort makes a best effort to free a child port before spawning. A
// stale owner is usually a child orphaned by a previous run; it gets the
// same SIGTERM, grace, SIGKILL escalation as stopChild. When the owner
// cannot be found, startup proceeds and the child's bind failure is the
// authoritative signal.
func (s *Supervisor) freePort(port int) {
	if portFree(port) {
		return
	}

	pid := portOwner(port)
	if pid <= 0 || pid == os.Getpid() {
		s.logger.Warn("port in use and owner unknown", "port", port)
		return
	}

	s.logger.Warn("killing stale listener", "port", port, "pid", pid)
	_ = syscall.Kill(pid, syscall.SIGTERM)

	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if portFree(port) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = syscall.Kill(pid, syscall.SIGKILL)
}

// portFree reports whether a TCP listener can bind the port right now.
func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// liveState derives the lifecycle state from child liveness.
func (s *Supervisor) liveState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	gatewayUp := s.gateway != nil && alive(s.gateway.pid)
	bridgeUp := s.bridge != nil && alive(s.bridge.pid)

	// Drop handles for dead children so status reads stay truthful.
	if s.gateway != nil && !gatewayUp {
		s.gateway = nil
	}
	if s.bridge != nil && !bridgeUp {
		s.bridge = nil
	}

	switch {
	case gatewayUp && bridgeUp:
		return StateRunning
	case gatewayUp || bridgeUp:
		return StatePartial
	default:
		return StateStopped
	}
}

// alive probes a PID with signal 0. Permission denied still means the
// process exists.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
