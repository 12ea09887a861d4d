// Package config holds the tunable constants of the equivalence-map builder
// and ensemble matcher, following the teacher's Options-struct pattern
// (saferwall/pe's pe.Options, with zero-value fields filled in with
// defaults post-construction) generalized to also accept an optional TOML
// file, grounded on holocm/holo-build's BurntSushi/toml-based build-spec
// loader.
package config

import (
	"github.com/BurntSushi/toml"
)

// Tunables are the constants named throughout spec §4.F/§4.I. Field names
// match the spec's k_-prefixed constant names with Go capitalization.
type Tunables struct {
	// MinMatchLength is k_min_match_length: suffix-array seeds shorter than
	// this are discarded outright.
	MinMatchLength int `toml:"min_match_length"`

	// BaseEquivalenceCost is k_base_equivalence_cost: the fixed cost
	// subtracted from a seed's length before backward/forward extension,
	// and the penalty-abort threshold during extension.
	BaseEquivalenceCost int `toml:"base_equivalence_cost"`

	// LargeEquivalenceScore is k_large_equivalence_score, the minimum-length
	// threshold used for the skeleton (iteration 1) equivalence map.
	LargeEquivalenceScore int `toml:"large_equivalence_score"`

	// MinEquivalenceScore is k_min_equivalence_score, combined with
	// BaseEquivalenceCost to form the iteration-2 minimum-length threshold.
	MinEquivalenceScore int `toml:"min_equivalence_score"`

	// MaxElementCount bounds the number of elements the ensemble matcher
	// will detect in a single image, to reject pathological archives.
	MaxElementCount int `toml:"max_element_count"`

	// MaxHistogramSizeRatio bounds how different two candidate element
	// sizes may be (larger/smaller) before the pair is rejected outright.
	MaxHistogramSizeRatio int `toml:"max_histogram_size_ratio"`

	// MaxHistogramSizeDiff is the absolute byte-size difference allowed
	// once MaxHistogramSizeRatio is exceeded (spec: 2 MiB).
	MaxHistogramSizeDiff int64 `toml:"max_histogram_size_diff"`

	// RateLimitMessages is the per-category diagnostic cap (spec §7/§9).
	RateLimitMessages int `toml:"rate_limit_messages"`

	// LogLevel is passed to zlog.New by gen when its --log-level flag is
	// not given.
	LogLevel string `toml:"log_level"`
}

// Default returns the built-in tunables from spec §4.F/§4.I/§7.
func Default() Tunables {
	return Tunables{
		MinMatchLength:        6,
		BaseEquivalenceCost:   12,
		LargeEquivalenceScore: 128,
		MinEquivalenceScore:   12,
		MaxElementCount:       256,
		MaxHistogramSizeRatio: 2,
		MaxHistogramSizeDiff:  2 * 1024 * 1024,
		RateLimitMessages:     10,
		LogLevel:              "info",
	}
}

// Load starts from Default() and overrides any field present in the TOML
// file at path. CLI flags are applied by the caller afterwards, so they
// always win over the file, which always wins over the built-in default.
func Load(path string) (Tunables, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	_, err := toml.DecodeFile(path, &t)
	return t, err
}
