package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

var knownTopLevelKeys = []string{"default_store", "logging", "network", "store"}

var knownSectionKeys = map[string][]string{
	"logging": {"log_format", "log_level"},
	"network": {"connect_timeout", "data_timeout"},
	"store": {
		"account", "authority", "block_size", "client_id", "client_secret",
		"container", "dns_suffix", "endpoint", "kind", "tenant_id", "token",
	},
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	switch {
	case len(key) == 0:
		return nil
	case len(key) == 1 || knownSectionKeys[key[0]] == nil:
		return suggest(fmt.Sprintf("unknown config key %q", key[0]), key[0], knownTopLevelKeys)
	case key[0] == "store":
		if len(key) < 3 {
			return fmt.Errorf("store %q: expected a table, e.g. [store.%s]", key[1], key[1])
		}

		return suggest(fmt.Sprintf("unknown key %q in [store.%s]", key[2], key[1]), key[2], knownSectionKeys["store"])
	default:
		return suggest(fmt.Sprintf("unknown key %q in [%s]", key[1], key[0]), key[1], knownSectionKeys[key[0]])
	}
}

func suggest(msg, unknown string, known []string) error {
	if s := closestMatch(unknown, known); s != "" {
		return fmt.Errorf("%s; did you mean %q?", msg, s)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
// Ties go to the alphabetically first key.
func closestMatch(unknown string, known []string) string {
	sorted := append([]string(nil), known...)
	sort.Strings(sorted)

	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range sorted {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
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

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
