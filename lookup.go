package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"

	"streamlink/models"
)

// maxSuggestionDistance is the largest edit distance offered as a
// "did you mean" suggestion.
const maxSuggestionDistance = 3

// findHost matches query against host uuids and names, case-insensitively.
// A query that is a prefix of exactly one host's uuid or name also matches.
func findHost(hosts []models.Host, query string) (models.Host, error) {
	for _, host := range hosts {
		if host.UUID == query || strings.EqualFold(host.Name, query) {
			return host, nil
		}
	}

	names := make([]string, 0, len(hosts))
	var prefixed []int
	for i, host := range hosts {
		names = append(names, host.Name)
		if hasPrefixFold(host.UUID, query) || hasPrefixFold(host.Name, query) {
			prefixed = append(prefixed, i)
		}
	}
	switch len(prefixed) {
	case 0:
		return models.Host{}, notFoundError("host", query, names)
	case 1:
		return hosts[prefixed[0]], nil
	default:
		matched := make([]string, 0, len(prefixed))
		for _, i := range prefixed {
			matched = append(matched, hosts[i].Name)
		}
		return models.Host{}, ambiguousError("host", query, matched)
	}
}

// findApp matches query against app ids and names, case-insensitively.
// A query that is a prefix of exactly one app name also matches.
func findApp(host models.Host, query string) (models.App, error) {
	for _, app := range host.Apps {
		if app.ID == query || strings.EqualFold(app.Name, query) {
			return *app, nil
		}
	}

	names := make([]string, 0, len(host.Apps))
	var prefixed []*models.App
	for _, app := range host.Apps {
		names = append(names, app.Name)
		if hasPrefixFold(app.Name, query) {
			prefixed = append(prefixed, app)
		}
	}
	switch len(prefixed) {
	case 0:
		return models.App{}, notFoundError("app", query, names)
	case 1:
		return *prefixed[0], nil
	default:
		matched := make([]string, 0, len(prefixed))
		for _, app := range prefixed {
			matched = append(matched, app.Name)
		}
		return models.App{}, ambiguousError("app", query, matched)
	}
}

// hasPrefixFold reports whether s starts with a non-blank prefix, ignoring case.
func hasPrefixFold(s, prefix string) bool {
	if strings.TrimSpace(prefix) == "" || len(prefix) > len(s) {
		return false
	}
	return strings.EqualFold(s[:len(prefix)], prefix)
}

func ambiguousError(kind, query string, matched []string) error {
	quoted := make([]string, 0, len(matched))
	for _, name := range matched {
		quoted = append(quoted, fmt.Sprintf("%q", name))
	}
	return fmt.Errorf("%s %q is ambiguous: matches %s", kind, query, strings.Join(quoted, " or "))
}

func notFoundError(kind, query string, candidates []string) error {
	if suggestions := suggest(query, candidates); len(suggestions) > 0 {
		return fmt.Errorf("no %s named %q (did you mean %s?)", kind, query, strings.Join(suggestions, " or "))
	}
	return fmt.Errorf("no %s named %q", kind, query)
}

// suggest returns up to three candidates closest to query, nearest first.
func suggest(query string, candidates []string) []string {
	type scored struct {
		name     string
		distance int
	}

	lowered := strings.ToLower(query)
	var matches []scored
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		distance := levenshtein.ComputeDistance(lowered, strings.ToLower(candidate))
		if distance <= maxSuggestionDistance {
			matches = append(matches, scored{name: candidate, distance: distance})
		}
	}

	slices.SortStableFunc(matches, func(a, b scored) int {
		return a.distance - b.distance
	})

	out := make([]string, 0, min(len(matches), 3))
	for _, match := range matches[:min(len(matches), 3)] {
		out = append(out, fmt.Sprintf("%q", match.name))
	}
	return out
}
