package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// portOwner finds the PID listening on a local TCP port by matching the
// socket inode from the kernel's connection tables against every process's
// open file descriptors. Returns 0 when the owner cannot be determined.
func portOwner(port int) int {
	inode := listenInode(port)
	if inode == "" {
		return 0
	}
	target := "socket:[" + inode + "]"

	procs, err := os.ReadDir("/proc")
	if err != nil {
		return 0
	}
	for _, entry := range procs {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		fdDir := fmt.Sprintf("/proc/%d/fd", pid)
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			// Not ours to inspect; skip.
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(fdDir + "/" + fd.Name())
			if err == nil && link == target {
				return pid
			}
		}
	}
	return 0
}

// listenInode returns the socket inode of the LISTEN entry on port, from
// /proc/net/tcp and /proc/net/tcp6.
func listenInode(port int) string {
	hexPort := fmt.Sprintf("%04X", port)
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for _, line := range lines[1:] {
			fields := strings.Fields(line)
			// sl local rem st queues timers retrnsmt uid timeout inode
			if len(fields) < 10 || fields[3] != "0A" {
				continue
			}
			if _, p, ok := strings.Cut(fields[1], ":"); ok && p == hexPort {
				return fields[9]
			}
		}
	}
	return ""
}
