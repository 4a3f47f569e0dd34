// Package ports selects loopback TCP ports for the supervised server.
//
// Inside a filesystem/network sandbox the socket-table view of other
// processes is unreliable, so a candidate port is only accepted when an
// OS-level PID lookup shows no foreign holder AND a direct connect probe
// fails with connection-refused. Any ambiguity counts as busy.
package ports

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const probeTimeout = 1 * time.Second

// PIDLookupFunc returns the PIDs currently listening on a TCP port. A nil
// error with an empty slice means the lookup ran and found nothing; an error
// means the lookup tool is unavailable or failed.
type PIDLookupFunc func(port int) ([]int, error)

// DialFunc probes a host:port the way net.DialTimeout does.
type DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

// Allocator finds an unused loopback port starting from a base.
type Allocator struct {
	Host   string
	Lookup PIDLookupFunc
	Dial   DialFunc
}

// New returns an Allocator backed by lsof and a real TCP dialer.
func New(host string) *Allocator {
	if strings.TrimSpace(host) == "" {
		host = "127.0.0.1"
	}
	return &Allocator{Host: host, Lookup: lsofListeners, Dial: net.DialTimeout}
}

// Select tries base, base+1, ... up to maxAttempts candidates and returns the
// first port that is not held by a foreign process. ownPIDs maps port to the
// PID this supervisor itself launched on that exact port; such a holder does
// not disqualify the candidate. Returns (0, false) when every candidate is
// busy.
func (a *Allocator) Select(base, maxAttempts int, ownPIDs map[int]int) (int, bool) {
	if maxAttempts <= 0 {
		return 0, false
	}
	for i := 0; i < maxAttempts; i++ {
		port := base + i
		if a.free(port, ownPIDs[port]) {
			return port, true
		}
	}
	return 0, false
}

func (a *Allocator) free(port, ownPID int) bool {
	pids, err := a.lookup(port)
	if err == nil && len(pids) > 0 {
		for _, pid := range pids {
			if pid != ownPID {
				// Never bind over a foreign holder, even if bind would
				// nominally succeed.
				return false
			}
		}
		return true
	}
	// Lookup unavailable or empty: fall back to a connect probe.
	return a.probeFree(port)
}

func (a *Allocator) lookup(port int) ([]int, error) {
	if a.Lookup == nil {
		return nil, errors.New("no pid lookup configured")
	}
	return a.Lookup(port)
}

// probeFree dials the candidate. Connection refused means nothing is
// listening; a successful connect or any other failure is treated as busy.
func (a *Allocator) probeFree(port int) bool {
	dial := a.Dial
	if dial == nil {
		dial = net.DialTimeout
	}
	conn, err := dial("tcp", net.JoinHostPort(a.Host, strconv.Itoa(port)), probeTimeout)
	if err == nil {
		_ = conn.Close()
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// lsofListeners asks lsof for the PIDs listening on a TCP port.
func lsofListeners(port int) ([]int, error) {
	out, err := exec.Command("lsof", "-nP", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN", "-t").Output()
	if err != nil {
		// lsof exits 1 when nothing matches; distinguish that from a
		// missing/failed tool by whether it produced any output.
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(out) == 0 {
			return nil, nil
		}
		return nil, err
	}
	var pids []int
	for _, line := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(line); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
