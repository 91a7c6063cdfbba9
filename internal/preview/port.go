package preview

import (
	"fmt"
	"net"
)

// allocatePort probes sequential ports from a preferred base, falling back
// to an OS-assigned ephemeral port when the whole range is busy. The probe
// listener closes immediately, so a racing process can still steal the port
// before the dev server binds it; the readiness poll catches that case.
func allocatePort(host string, base, probeCount int) (int, error) {
	for i := 0; i < probeCount; i++ {
		port := base + i
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:0", host))
	if err != nil {
		return 0, fmt.Errorf("no free port available: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}
