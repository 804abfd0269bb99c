// Package status reports whether a kestrel daemon is alive and healthy.
package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/msageha/kestrel/internal/health"
	"github.com/msageha/kestrel/internal/lock"
)

// PipelineStatus is the full status report.
type PipelineStatus struct {
	Daemon DaemonStatus `json:"daemon"`
	Loops  []LoopStatus `json:"loops,omitempty"`
}

type DaemonStatus struct {
	Running bool   `json:"running"`
	Pid     int    `json:"pid,omitempty"`
	Version string `json:"version,omitempty"`
	Health  string `json:"health,omitempty"`
}

type LoopStatus struct {
	Name  string `json:"name"`
	Age   string `json:"last_beat_age"`
	Stale bool   `json:"stale"`
}

const probeTimeout = 3 * time.Second

// Run queries the daemon's health server and prints the result.
func Run(healthAddr, lockFile string, jsonOutput bool) error {
	s := collect(healthAddr, lockFile)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	printStatus(s)
	return nil
}

func collect(healthAddr, lockFile string) PipelineStatus {
	var s PipelineStatus

	if lockFile != "" {
		if pid, err := lock.ReadPID(lockFile); err == nil {
			s.Daemon.Pid = pid
		}
	}
	if healthAddr == "" {
		return s
	}

	client := &http.Client{Timeout: probeTimeout}

	report, err := fetchHealth(client, healthAddr)
	if err != nil {
		return s
	}
	s.Daemon.Running = true
	s.Daemon.Health = report.Status

	staleSet := make(map[string]bool, len(report.Stale))
	for _, name := range report.Stale {
		staleSet[name] = true
	}
	for name, age := range report.Loops {
		s.Loops = append(s.Loops, LoopStatus{Name: name, Age: age, Stale: staleSet[name]})
	}
	sort.Slice(s.Loops, func(i, j int) bool { return s.Loops[i].Name < s.Loops[j].Name })

	if v, err := fetchVersion(client, healthAddr); err == nil {
		s.Daemon.Version = v
	}
	return s
}

func fetchHealth(client *http.Client, addr string) (health.Report, error) {
	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		return health.Report{}, err
	}
	defer resp.Body.Close()

	// Both 200 and the unhealthy 500 carry a report body.
	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return health.Report{}, err
	}
	return report, nil
}

func fetchVersion(client *http.Client, addr string) (string, error) {
	resp, err := client.Get(fmt.Sprintf("http://%s/version", addr))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var info health.VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	return info.Version, nil
}

func printStatus(s PipelineStatus) {
	// Daemon
	switch {
	case s.Daemon.Running && s.Daemon.Health == "ok":
		fmt.Println("Daemon: running")
	case s.Daemon.Running:
		fmt.Println("Daemon: running (unhealthy)")
	default:
		fmt.Println("Daemon: stopped")
	}
	if s.Daemon.Pid != 0 {
		fmt.Printf("PID:     %d\n", s.Daemon.Pid)
	}
	if s.Daemon.Version != "" {
		fmt.Printf("Version: %s\n", s.Daemon.Version)
	}

	// Loops
	if len(s.Loops) > 0 {
		fmt.Println("\nLoops:")
		fmt.Printf("  %-14s  %12s  %s\n", "NAME", "LAST BEAT", "STATE")
		for _, l := range s.Loops {
			state := "ok"
			if l.Stale {
				state = "stale"
			}
			fmt.Printf("  %-14s  %12s  %s\n", l.Name, l.Age, state)
		}
	}
}
