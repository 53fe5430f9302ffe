// Package diagnostics runs local preflight checks over a set of tunnel
// definitions and the daemon configuration, using a Severity/Issue/Report
// shape with sorted output, covering plexy's own concerns: port
// availability, duplicate binds, and TLS material.
package diagnostics

import (
	"fmt"
	"net"
	"os"
	"sort"

	"github.com/relaymesh/plexy/internal/appconfig"
	"github.com/relaymesh/plexy/internal/tlsclient"
	"github.com/relaymesh/plexy/internal/tunnelspec"
)

// Severity ranks an Issue for sorting and for a CLI exit-code decision.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is one diagnostic finding.
type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

// Report is the full set of findings from one diagnostics run.
type Report struct {
	Issues []Issue `json:"issues"`
}

// Run checks specs and cfg for problems that would prevent plexy from
// starting cleanly or would surprise an operator once it is running. It
// never mutates system state beyond transient probe listeners, which it
// always closes before returning.
func Run(specs []tunnelspec.Spec, cfg appconfig.Config) Report {
	var issues []Issue
	issues = append(issues, duplicateLocalBindIssues(specs)...)
	issues = append(issues, duplicateRemoteIssues(specs)...)
	issues = append(issues, portAvailabilityIssues(specs)...)
	issues = append(issues, tlsIssues(specs, cfg)...)
	issues = append(issues, surfaceCollisionIssues(specs, cfg)...)

	sort.Slice(issues, func(i, j int) bool {
		ri, rj := severityRank(issues[i].Severity), severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		return issues[i].Target < issues[j].Target
	})
	return Report{Issues: issues}
}

func duplicateLocalBindIssues(specs []tunnelspec.Spec) []Issue {
	seen := map[string]int{}
	for _, s := range specs {
		seen[s.Local.Display()]++
	}
	var issues []Issue
	for bind, count := range seen {
		if count < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-local-bind",
			Target:         bind,
			Message:        fmt.Sprintf("local bind is configured by %d tunnel definitions", count),
			Recommendation: "use a unique local socket per tunnel",
		})
	}
	return issues
}

func duplicateRemoteIssues(specs []tunnelspec.Spec) []Issue {
	var issues []Issue
	for _, s := range specs {
		seen := map[string]int{}
		for _, r := range s.Remotes {
			seen[r.Display()]++
		}
		for remote, count := range seen {
			if count < 2 {
				continue
			}
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "duplicate-remote",
				Target:         fmt.Sprintf("%s -> %s", s.Local.Display(), remote),
				Message:        fmt.Sprintf("remote listed %d times in the same tunnel", count),
				Recommendation: "list each remote once; duplicate entries skew load-balancing without adding capacity",
			})
		}
	}
	return issues
}

func portAvailabilityIssues(specs []tunnelspec.Spec) []Issue {
	var issues []Issue
	for _, s := range specs {
		ln, err := net.Listen("tcp", s.Local.Address())
		if err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "port-unavailable",
				Target:         s.Local.Display(),
				Message:        err.Error(),
				Recommendation: "choose a different local port or stop whatever is already bound to it",
			})
			continue
		}
		ln.Close()
	}
	return issues
}

func tlsIssues(specs []tunnelspec.Spec, cfg appconfig.Config) []Issue {
	var issues []Issue
	usesTLS := false
	for _, s := range specs {
		if s.HasRemoteTLS && s.RemoteTLS {
			usesTLS = true
		}
	}
	if !usesTLS {
		return nil
	}
	if cfg.TLS.CABundlePath == "" {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "tls-no-bundle",
			Target:         "tls.ca_bundle_path",
			Message:        "remote-tls is enabled on at least one tunnel with no CA bundle configured",
			Recommendation: "set tls.ca_bundle_path, or confirm the system root store trusts every remote's certificate",
		})
		return issues
	}
	if _, err := os.Stat(cfg.TLS.CABundlePath); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "tls-bundle-missing",
			Target:         cfg.TLS.CABundlePath,
			Message:        err.Error(),
			Recommendation: "fix tls.ca_bundle_path or remove it to fall back to the system root store",
		})
		return issues
	}
	if _, err := tlsclient.New(cfg.TLS.CABundlePath, ""); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "tls-bundle-invalid",
			Target:         cfg.TLS.CABundlePath,
			Message:        err.Error(),
			Recommendation: "regenerate the CA bundle as a PEM file containing one or more certificates",
		})
	}
	return issues
}

func surfaceCollisionIssues(specs []tunnelspec.Spec, cfg appconfig.Config) []Issue {
	addrs := map[string]string{}
	for _, s := range specs {
		addrs[s.Local.Display()] = "tunnel"
	}
	var issues []Issue
	check := func(name, addr string) {
		if addr == "" {
			return
		}
		if owner, ok := addrs[addr]; ok {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "surface-collision",
				Target:         addr,
				Message:        fmt.Sprintf("%s surface address collides with a %s bind", name, owner),
				Recommendation: "use a distinct address for each listening surface",
			})
			return
		}
		addrs[addr] = name
	}
	check("rpc", cfg.RPC.Address)
	check("metrics", cfg.Metrics.Address)
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
