package probes

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Swappable for tests.
var (
	cpuPercent     = cpu.Percent
	virtualMemory  = mem.VirtualMemory
	diskUsage      = disk.Usage
	netConnections = psnet.Connections
)

// System reads host utilization and connection counts. All methods satisfy
// the sampling source shape, so the collector can wrap them in a robust
// average without adapters.
type System struct {
	// DiskPath is the mount point whose usage is reported.
	DiskPath string
	// RemoteAddrs are the remote IPs whose connections count as suspicious.
	RemoteAddrs []string
}

// CPUPercent returns instantaneous CPU utilization across all cores. The
// zero interval means utilization since the previous call, which is exactly
// what repeated sampling wants.
func (s *System) CPUPercent() (float64, error) {
	percentages, err := cpuPercent(0, false)
	if err != nil {
		return 0, fmt.Errorf("reading cpu utilization: %w", err)
	}
	if len(percentages) == 0 {
		return 0, fmt.Errorf("cpu utilization unavailable")
	}
	return percentages[0], nil
}

// MemoryPercent returns used physical memory as a percentage.
func (s *System) MemoryPercent() (float64, error) {
	vm, err := virtualMemory()
	if err != nil {
		return 0, fmt.Errorf("reading memory stats: %w", err)
	}
	return vm.UsedPercent, nil
}

// DiskPercent returns used space on the configured mount as a percentage.
func (s *System) DiskPercent() (float64, error) {
	usage, err := diskUsage(s.diskPath())
	if err != nil {
		return 0, fmt.Errorf("reading disk usage for %s: %w", s.diskPath(), err)
	}
	return usage.UsedPercent, nil
}

// TotalConnections returns the count of open inet sockets, TCP and UDP over
// IPv4 and IPv6.
func (s *System) TotalConnections() (float64, error) {
	conns, err := netConnections("inet")
	if err != nil {
		return 0, fmt.Errorf("listing connections: %w", err)
	}
	return float64(len(conns)), nil
}

// SuspiciousRemoteConnections counts open connections whose remote end is
// one of the configured addresses. Zero when no address is configured.
func (s *System) SuspiciousRemoteConnections() (float64, error) {
	if len(s.RemoteAddrs) == 0 {
		return 0, nil
	}
	conns, err := netConnections("inet")
	if err != nil {
		return 0, fmt.Errorf("listing connections: %w", err)
	}
	count := 0
	for _, conn := range conns {
		for _, addr := range s.RemoteAddrs {
			if conn.Raddr.IP == addr {
				count++
				break
			}
		}
	}
	return float64(count), nil
}

func (s *System) diskPath() string {
	if s.DiskPath == "" {
		return "/"
	}
	return s.DiskPath
}
