// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/phosphorescence/eos/lib/ipc"
)

// ContainmentCheck attempts one way out of the sandbox from inside the
// worker. Run returns nil when the attempt was blocked and an error
// describing what worked when it was not.
type ContainmentCheck struct {
	Name     string
	Category string // "network", "filesystem", "process", "privilege", "terminal"
	Run      func(ctx context.Context) error
}

// checkTimeout bounds each check.
const checkTimeout = 3 * time.Second

// ContainmentChecks are the checks an isolated worker runs at startup.
var ContainmentChecks = []ContainmentCheck{
	{
		Name:     "network-external",
		Category: "network",
		Run: func(ctx context.Context) error {
			var dialer net.Dialer
			conn, err := dialer.DialContext(ctx, "tcp", "1.1.1.1:443")
			if err != nil {
				return nil
			}
			conn.Close()
			return errors.New("connected to 1.1.1.1:443")
		},
	},
	{
		Name:     "network-interfaces",
		Category: "network",
		Run: func(context.Context) error {
			interfaces, err := net.Interfaces()
			if err != nil {
				return nil
			}
			for _, iface := range interfaces {
				if iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagUp != 0 {
					return fmt.Errorf("network interface %s is up", iface.Name)
				}
			}
			return nil
		},
	},
	{
		Name:     "filesystem-home",
		Category: "filesystem",
		Run: func(context.Context) error {
			for _, root := range []string{"/home", "/root"} {
				entries, err := os.ReadDir(root)
				if err != nil {
					continue
				}
				for _, entry := range entries {
					if !entry.IsDir() {
						continue
					}
					for _, private := range []string{".ssh", ".gnupg", ".config"} {
						path := filepath.Join(root, entry.Name(), private)
						if _, err := os.Stat(path); err == nil {
							return fmt.Errorf("host home directory visible: %s", path)
						}
					}
				}
			}
			return nil
		},
	},
	{
		Name:     "filesystem-secrets",
		Category: "filesystem",
		Run: func(context.Context) error {
			for _, path := range []string{"/etc/shadow", "/etc/ssh", "/run/secrets"} {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s is visible", path)
				}
			}
			return nil
		},
	},
	{
		Name:     "filesystem-write-system",
		Category: "filesystem",
		Run: func(context.Context) error {
			for _, dir := range []string{"/usr", "/etc", "/lib"} {
				path := filepath.Join(dir, ".eos-containment-probe")
				f, err := os.Create(path)
				if err != nil {
					continue
				}
				f.Close()
				os.Remove(path)
				return fmt.Errorf("wrote %s", path)
			}
			return nil
		},
	},
	{
		Name:     "process-host-pids",
		Category: "process",
		Run: func(context.Context) error {
			entries, err := os.ReadDir("/proc")
			if err != nil {
				return nil
			}
			pids := 0
			for _, entry := range entries {
				if entry.IsDir() && isNumeric(entry.Name()) {
					pids++
				}
			}
			// A worker's own namespace holds bwrap's init, the
			// worker, and little else.
			if pids > 8 {
				return fmt.Errorf("%d processes visible in /proc", pids)
			}
			return nil
		},
	},
	{
		Name:     "privilege-no-new-privs",
		Category: "privilege",
		Run: func(context.Context) error {
			value, err := unix.PrctlRetInt(unix.PR_GET_NO_NEW_PRIVS, 0, 0, 0, 0)
			if err != nil {
				return fmt.Errorf("reading no_new_privs: %w", err)
			}
			if value != 1 {
				return errors.New("no_new_privs is not set")
			}
			return nil
		},
	},
	{
		Name:     "terminal-controlling-tty",
		Category: "terminal",
		Run: func(context.Context) error {
			tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
			if err != nil {
				return nil
			}
			tty.Close()
			return errors.New("controlling terminal is reachable")
		},
	},
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// RunContainmentChecks runs checks in order and reports each as a
// lockdown probe named "sandbox/<name>".
func RunContainmentChecks(ctx context.Context, checks []ContainmentCheck) []ipc.Probe {
	probes := make([]ipc.Probe, 0, len(checks))
	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check.Run(checkCtx)
		cancel()

		probe := ipc.Probe{Name: "sandbox/" + check.Name, Locked: err == nil}
		if err != nil {
			probe.Detail = err.Error()
		}
		probes = append(probes, probe)
	}
	return probes
}
