package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownTopLevelKeys are the scalar keys and table names valid at the top of
// the file. Sorted for deterministic suggestions.
var knownTopLevelKeys = []string{
	"admin", "callback", "import", "journal", "log_format", "log_level",
	"network", "token_file", "upload", "url",
}

// knownSectionKeys lists the keys valid inside each table.
var knownSectionKeys = map[string][]string{
	"callback": {"path", "port"},
	"import":   {"parallel"},
	"upload":   {"exclude", "parallel"},
	"network":  {"max_retries", "timeout", "user_agent"},
	"journal":  {"enabled", "path"},
	"admin":    {"auth", "domains", "url"},
}

// knownAdminDomainKeys are the keys valid inside an [admin.domains."x"] table.
var knownAdminDomainKeys = []string{"auth", "url"}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	// An unknown table shows up once for the table and once per key in it.
	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key, picking the candidate list
// from the table the key sits in.
func unknownKeyError(key toml.Key) error {
	switch {
	case len(key) >= 4 && key[0] == "admin" && key[1] == "domains":
		return keyError(fmt.Sprintf("admin.domains.%q", key[2]), key[3], knownAdminDomainKeys)
	case len(key) >= 2 && knownSectionKeys[key[0]] != nil:
		return keyError(key[0], key[1], knownSectionKeys[key[0]])
	default:
		return keyError("", key[0], knownTopLevelKeys)
	}
}

func keyError(section, field string, known []string) error {
	where := ""
	if section != "" {
		where = fmt.Sprintf(" in [%s]", section)
	}

	if suggestion := closestMatch(field, known); suggestion != "" {
		return fmt.Errorf("unknown config key %q%s, did you mean %q?", field, where, suggestion)
	}

	return fmt.Errorf("unknown config key %q%s", field, where)
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

// levenshtein computes the edit distance between two strings using two
// rolling rows.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

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

			curr[j+1] = slices.Min([]int{curr[j] + 1, prev[j+1] + 1, prev[j] + cost})
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
