package supervisor

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/config"
)

func TestAlive(t *testing.T) {
	if !alive(os.Getpid()) {
		t.Error("own pid reported dead")
	}
	if alive(0) || alive(-1) {
		t.Error("non-positive pid reported alive")
	}
}

func TestAliveExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	// The process is reaped; its pid must not probe as alive.
	if alive(cmd.Process.Pid) {
		t.Error("exited pid reported alive")
	}
}

func TestStopChildTerminates(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	go func() { _ = cmd.Wait() }()

	s := New(config.Default(), "")
	s.stopChild(&child{name: "test", cmd: cmd, pid: cmd.Process.Pid})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !alive(cmd.Process.Pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("child still alive after stopChild")
}

func TestStateTransitionsNotifyObserver(t *testing.T) {
	s := New(config.Default(), "")

	var seen []State
	s.OnStateChange(func(st State) { seen = append(seen, st) })

	s.setState(StateStarting)
	s.setState(StateStarting) // no-op, already there
	s.setState(StateStopped)

	if len(seen) != 2 || seen[0] != StateStarting || seen[1] != StateStopped {
		t.Errorf("transitions = %v", seen)
	}
}

func TestStatusWhileStopped(t *testing.T) {
	s := New(config.Default(), "")

	st := s.Status()
	if st.State != StateStopped || st.Running {
		t.Errorf("status = %+v", st)
	}
	if st.UptimeSeconds != 0 {
		t.Errorf("uptime = %d", st.UptimeSeconds)
	}
	if st.GatewayPID != 0 || st.BridgePID != 0 {
		t.Errorf("pids = %d/%d", st.GatewayPID, st.BridgePID)
	}
}

func TestStatusDetectsDeadChild(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	s := New(config.Default(), "")
	s.mu.Lock()
	s.state = StateRunning
	s.gateway = &child{name: "gateway", pid: cmd.Process.Pid}
	s.startedAt = time.Now()
	s.mu.Unlock()

	st := s.Status()
	if st.State != StateStopped {
		t.Errorf("state = %s, want stopped after child death", st.State)
	}
	if st.GatewayPID != 0 {
		t.Errorf("dead child pid still tracked: %d", st.GatewayPID)
	}
}
