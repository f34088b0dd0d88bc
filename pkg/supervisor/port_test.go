package supervisor

import (
	"net"
	"os"
	"testing"
)

func TestPortOwnerFindsOwnListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if free := portFree(port); free {
		t.Fatalf("portFree(%d) = true while listening", port)
	}
	if pid := portOwner(port); pid != os.Getpid() {
		t.Errorf("portOwner(%d) = %d, want %d", port, pid, os.Getpid())
	}
}

func TestPortOwnerUnusedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	if pid := portOwner(port); pid != 0 {
		t.Errorf("portOwner(%d) = %d, want 0 after close", port, pid)
	}
}
