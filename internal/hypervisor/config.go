// Package hypervisor implements the hypervisor driver (C3): creation,
// configuration, networking, and teardown of microVMs via a per-VM Unix
// control socket, plus copy-on-write root filesystem overlays.
package hypervisor

import "time"

// Config holds the paths and network parameters the driver needs to
// operate a fleet of microVMs on a single host.
type Config struct {
	FirecrackerBin string
	KernelPath     string
	BaseRootfsPath string // shared read-only base image, never written to
	DataDir        string // parent of sockets/, vms/, logs/
	BridgeName     string
	Subnet         string // e.g. "172.30.0.0/24"
	BootTimeout    time.Duration
	LogLevel       string

	// MaxExecuteTimeout bounds every Execute call independently of the
	// function's own timeout_sec, per spec.md §4.3.4/§5: a control-plane
	// call must never be allowed to run longer than this regardless of
	// what a caller requests, guarding against a runaway call should
	// registry-level timeout_sec validation ever be bypassed.
	MaxExecuteTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		FirecrackerBin:    "/usr/bin/firecracker",
		KernelPath:        "/var/lib/novafn/images/vmlinux",
		BaseRootfsPath:    "/var/lib/novafn/images/rootfs.ext4",
		DataDir:           "/var/lib/novafn",
		BridgeName:        "novafnbr0",
		Subnet:            "172.30.0.0/24",
		BootTimeout:       10 * time.Second,
		LogLevel:          "Info",
		MaxExecuteTimeout: 900 * time.Second,
	}
}

// ExecuteDeadline returns the lesser of requested (the function's
// timeout_sec converted to a duration) and the driver's own cap, per
// spec.md §4.3.4's "lesser of the function's timeout_sec and a driver
// cap" rule.
func (c *Config) ExecuteDeadline(requested time.Duration) time.Duration {
	driverCap := c.MaxExecuteTimeout
	if driverCap <= 0 {
		driverCap = DefaultConfig().MaxExecuteTimeout
	}
	if requested <= 0 || requested > driverCap {
		return driverCap
	}
	return requested
}

func (c *Config) socketsDir() string { return c.DataDir + "/sockets" }
func (c *Config) vmsDir() string     { return c.DataDir + "/vms" }
func (c *Config) logsDir() string    { return c.DataDir + "/logs" }
