// Package validator compares the actions a catalog declares for a server
// against the handlers the server process actually registered.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"toolgrid/internal/domain"
)

// Validate computes the consistency report for one server. It is a pure
// function of the catalog and the supplied inventory; results are never
// cached so they always reflect live state.
func Validate(catalog domain.Catalog, serverID string, inventory []string) domain.ConsistencyReport {
	report := domain.ConsistencyReport{
		ServerID:    serverID,
		Implemented: sortedUnique(inventory),
	}

	spec, ok := catalog.Server(serverID)
	if !ok {
		// Unknown servers produce a flagged report instead of an error so
		// monitoring tooling can render them alongside known servers.
		report.UnknownServer = true
		report.Extra = report.Implemented
		return report
	}

	report.Required = spec.ActionNames()

	implemented := make(map[string]struct{}, len(report.Implemented))
	for _, action := range report.Implemented {
		implemented[action] = struct{}{}
	}
	required := make(map[string]struct{}, len(report.Required))
	for _, action := range report.Required {
		required[action] = struct{}{}
	}

	for _, action := range report.Required {
		if _, ok := implemented[action]; !ok {
			report.Missing = append(report.Missing, action)
		}
	}
	for _, action := range report.Implemented {
		if _, ok := required[action]; !ok {
			report.Extra = append(report.Extra, action)
		}
	}

	report.Consistent = len(report.Missing) == 0 && len(report.Extra) == 0
	for _, action := range report.Missing {
		report.Suggestions = append(report.Suggestions,
			fmt.Sprintf("implement handle_%s on server %q", action, serverID))
	}
	return report
}

// ValidateAll runs Validate for every supplied inventory, sorted by
// server id for stable output.
func ValidateAll(catalog domain.Catalog, inventories map[string][]string) []domain.ConsistencyReport {
	ids := make([]string, 0, len(inventories))
	for id := range inventories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reports := make([]domain.ConsistencyReport, 0, len(ids))
	for _, id := range ids {
		reports = append(reports, Validate(catalog, id, inventories[id]))
	}
	return reports
}

// Require converts an inconsistent or unknown-server report into a typed
// error, for fail-fast startup checks on essential servers.
func Require(report domain.ConsistencyReport) error {
	const op = "validator.Require"

	if report.UnknownServer {
		return domain.E(domain.CodeInconsistent, op,
			fmt.Sprintf("server %q is not declared in the catalog", report.ServerID), domain.ErrUnknownServer)
	}
	if report.Consistent {
		return nil
	}
	var parts []string
	if len(report.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing actions: %s", strings.Join(report.Missing, ", ")))
	}
	if len(report.Extra) > 0 {
		parts = append(parts, fmt.Sprintf("undeclared actions: %s", strings.Join(report.Extra, ", ")))
	}
	return domain.E(domain.CodeInconsistent, op,
		fmt.Sprintf("server %q: %s", report.ServerID, strings.Join(parts, "; ")), nil)
}

func sortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
