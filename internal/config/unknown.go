package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each section to its valid keys. The empty section holds
// the top-level keys.
var knownKeys = map[string][]string{
	"":            sortedKeys("active_profile", "network", "retry", "concurrency", "logging", "profiles"),
	"network":     sortedKeys("timeout", "connect_timeout", "user_agent", "requests_per_second"),
	"retry":       sortedKeys("max_retries", "max_network_retries", "base_delay", "max_delay"),
	"concurrency": sortedKeys("workers"),
	"logging":     sortedKeys("log_level", "log_format"),
	"profiles": sortedKeys("store", "key_id", "issuer_id", "key_path",
		"service_account_path", "default", "cache_token"),
}

func sortedKeys(keys ...string) []string {
	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section, field, ok := splitUndecoded(key)
		if !ok {
			continue
		}

		label := field
		if section != "" {
			label = section + "." + field
		}

		if seen[label] {
			continue
		}

		seen[label] = true
		errs = append(errs, unknownKeyError(section, field))
	}

	return errors.Join(errs...)
}

// splitUndecoded maps an undecoded key onto (section, field). Profile keys
// are "profiles.<name>.<field>"; nested keys below an unknown table are
// reported once, at the table.
func splitUndecoded(key toml.Key) (string, string, bool) {
	switch {
	case len(key) == 1:
		return "", key[0], true
	case key[0] == "profiles":
		if len(key) < 3 {
			return "", "", false
		}

		return "profiles", key[2], true
	case slices.Contains(knownKeys[""], key[0]):
		return key[0], key[1], true
	default:
		return "", key[0], true
	}
}

func unknownKeyError(section, field string) error {
	where := "top level"
	if section != "" {
		where = "[" + section + "]"
	}

	if suggestion := closestMatch(field, knownKeys[section]); suggestion != "" {
		return fmt.Errorf("unknown config key %q in %s: did you mean %q?", field, where, suggestion)
	}

	return fmt.Errorf("unknown config key %q in %s", field, where)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
