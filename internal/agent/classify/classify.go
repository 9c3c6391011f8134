// Package classify maps free-form requests to a task class, a wait
// budget and a preferred specialist agent. Coordinator agents use it
// to size their wait windows instead of paying the ceiling for every
// request.
package classify

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Rule matches a class by keyword. First match wins; matching is
// case-insensitive substring.
type Rule struct {
	Class      string   `koanf:"class"`
	Keywords   []string `koanf:"keywords"`
	WaitMs     int64    `koanf:"wait_ms"`
	Specialist string   `koanf:"specialist"`
}

// Decision is the classification outcome.
type Decision struct {
	Class      string
	WaitMs     int64
	Specialist string
}

// Table is an ordered rule set with a fallback decision.
type Table struct {
	rules    []Rule
	fallback Decision
}

// Default returns the built-in table. Media-creation work is slow and
// gets the full ceiling; news lookups are quick; automation sits in
// between.
func Default() *Table {
	return &Table{
		rules: []Rule{
			{
				Class:      "media-creation",
				Keywords:   []string{"song", "music", "compose", "track", "melody", "lyrics"},
				WaitMs:     60_000,
				Specialist: "media",
			},
			{
				Class:      "news-query",
				Keywords:   []string{"news", "latest", "headline"},
				WaitMs:     15_000,
				Specialist: "news",
			},
			{
				Class:      "automation",
				Keywords:   []string{"upload", "comment", "quota"},
				WaitMs:     30_000,
				Specialist: "automation",
			},
		},
		fallback: Decision{Class: "general", WaitMs: 20_000},
	}
}

// Load reads a rule table from a YAML file:
//
//	rules:
//	  - class: media-creation
//	    keywords: [song, music]
//	    wait_ms: 60000
//	    specialist: media
//	default:
//	  wait_ms: 20000
//	  specialist: ""
func Load(path string) (*Table, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load rule table: %w", err)
	}

	var spec struct {
		Rules   []Rule `koanf:"rules"`
		Default struct {
			WaitMs     int64  `koanf:"wait_ms"`
			Specialist string `koanf:"specialist"`
		} `koanf:"default"`
	}
	if err := k.Unmarshal("", &spec); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	if len(spec.Rules) == 0 {
		return nil, fmt.Errorf("rule table %s has no rules", path)
	}
	for i, r := range spec.Rules {
		if r.Class == "" || len(r.Keywords) == 0 || r.WaitMs <= 0 {
			return nil, fmt.Errorf("rule %d is incomplete", i)
		}
	}

	fallback := Decision{Class: "general", WaitMs: spec.Default.WaitMs, Specialist: spec.Default.Specialist}
	if fallback.WaitMs <= 0 {
		fallback.WaitMs = 20_000
	}
	return &Table{rules: spec.Rules, fallback: fallback}, nil
}

// Classify picks the decision for one request.
func (t *Table) Classify(input string) Decision {
	lower := strings.ToLower(input)
	for _, r := range t.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return Decision{Class: r.Class, WaitMs: r.WaitMs, Specialist: r.Specialist}
			}
		}
	}
	return t.fallback
}

// DefaultSliceMs is the standard per-attempt slice for budget-sized
// waits.
const DefaultSliceMs = 8_000

// SliceBudget splits a total wait budget into per-attempt slices no
// larger than baseMs. Short slices keep the caller responsive while a
// long budget still covers slow specialists.
func SliceBudget(totalMs, baseMs int64) []int64 {
	if totalMs <= 0 {
		return nil
	}
	if baseMs <= 0 || baseMs >= totalMs {
		return []int64{totalMs}
	}
	slices := make([]int64, 0, totalMs/baseMs+1)
	for remaining := totalMs; remaining > 0; remaining -= baseMs {
		if remaining < baseMs {
			slices = append(slices, remaining)
		} else {
			slices = append(slices, baseMs)
		}
	}
	return slices
}
