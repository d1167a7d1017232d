// Package portmonitor snapshots listening TCP ports by parsing
// /proc/net/tcp and /proc/net/tcp6 (spec §4.I). This is the mandated
// /proc variant — the source's alternative `ss`-shelling implementation
// is explicitly out of scope for container portability.
package portmonitor

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tcpListen is the connection state value in /proc/net/tcp for a socket
// in LISTEN state.
const tcpListen = "0A"

// Monitor caches a snapshot of listening ports for ttl, refreshing under
// a single-flight lock so concurrent callers during a cache miss collapse
// into one /proc read (spec §4.I "refreshes under a single-flight lock").
type Monitor struct {
	ttl     time.Duration
	exclude map[int]struct{}

	mu      sync.RWMutex
	ports   []int
	takenAt time.Time

	group singleflight.Group
}

// New creates a Monitor. exclude is the set of ports to always omit from
// snapshots (EXCLUDED_PORTS).
func New(ttl time.Duration, exclude map[int]struct{}) *Monitor {
	return &Monitor{ttl: ttl, exclude: exclude}
}

// Snapshot returns (ports, takenAt). It serves the cached value if it is
// still within ttl, otherwise refreshes.
func (m *Monitor) Snapshot() ([]int, time.Time) {
	m.mu.RLock()
	ports, takenAt := m.ports, m.takenAt
	fresh := time.Since(takenAt) < m.ttl
	m.mu.RUnlock()

	if fresh {
		return copyPorts(ports), takenAt
	}

	type snapshot struct {
		ports   []int
		takenAt time.Time
	}

	v, _, _ := m.group.Do("refresh", func() (interface{}, error) {
		// Re-check: another caller may have refreshed while we waited to
		// enter Do.
		m.mu.RLock()
		if time.Since(m.takenAt) < m.ttl {
			s := snapshot{ports: copyPorts(m.ports), takenAt: m.takenAt}
			m.mu.RUnlock()
			return s, nil
		}
		m.mu.RUnlock()

		ports := m.scan()

		m.mu.Lock()
		m.ports = ports
		m.takenAt = time.Now()
		s := snapshot{ports: copyPorts(m.ports), takenAt: m.takenAt}
		m.mu.Unlock()

		return s, nil
	})

	// Every caller sharing one Do result gets its own copy of the slice.
	s := v.(snapshot)
	return copyPorts(s.ports), s.takenAt
}

func copyPorts(ports []int) []int {
	out := make([]int, len(ports))
	copy(out, ports)
	return out
}

func (m *Monitor) scan() []int {
	seen := make(map[int]struct{})
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		for _, port := range scanFile(path) {
			if _, excluded := m.exclude[port]; excluded {
				continue
			}
			seen[port] = struct{}{}
		}
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	return ports
}

// scanFile parses one /proc/net/tcp{,6} file, returning the local ports
// of sockets in LISTEN state bound to the any-address.
//
// Format (header + one line per socket), local/remote addresses are
// hex-encoded and colon-separated from the port:
//
//	sl  local_address rem_address   st ...
//	0: 00000000:0050 00000000:0000 0A ...
func scanFile(path string) []int {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var ports []int
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue // header line
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[3] != tcpListen {
			continue
		}
		local := fields[1]
		parts := strings.SplitN(local, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if !isAnyAddress(parts[0]) {
			continue
		}
		port, err := strconv.ParseInt(parts[1], 16, 32)
		if err != nil {
			continue
		}
		ports = append(ports, int(port))
	}
	return ports
}

// isAnyAddress reports whether the hex-encoded address is 0.0.0.0 or ::,
// i.e. the socket listens on all interfaces rather than a specific one.
func isAnyAddress(hexAddr string) bool {
	for _, c := range hexAddr {
		if c != '0' {
			return false
		}
	}
	return true
}
