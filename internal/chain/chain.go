// Package chain encodes and decodes variation chains.
//
// A chain is the compact ancestry string carried by every generation record,
// a comma separated list of seed:weight pairs ordered oldest first:
//
//	3357757885:0.2,1185637004:0.1
//
// Only the last entry names the direct parent. Earlier entries describe more
// distant ancestry that the parent's own chain already records.
package chain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	entrySep = ","
	pairSep  = ":"
)

var ErrMalformedEntry = errors.New("malformed chain entry")

// Entry is one variation step: the seed of the variation and the strength it
// was blended in with.
type Entry struct {
	Seed   int64
	Weight float64
}

func (e Entry) String() string {
	return strconv.FormatInt(e.Seed, 10) + pairSep + strconv.FormatFloat(e.Weight, 'f', -1, 64)
}

// Encode joins entries as seed:weight pairs. An empty chain encodes to "".
func Encode(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.String()
	}
	return strings.Join(parts, entrySep)
}

// Decode parses a chain string. "" decodes to an empty chain, never to a
// chain holding one empty entry. Empty elements between separators are skipped.
func Decode(s string) ([]Entry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []Entry{}, nil
	}

	parts := strings.Split(s, entrySep)
	entries := make([]Entry, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		e, err := parseEntry(part)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseEntry(s string) (Entry, error) {
	seedStr, weightStr, ok := strings.Cut(s, pairSep)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q has no %q", ErrMalformedEntry, s, pairSep)
	}

	seed, err := strconv.ParseInt(strings.TrimSpace(seedStr), 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad seed %q", ErrMalformedEntry, seedStr)
	}

	weight, err := strconv.ParseFloat(strings.TrimSpace(weightStr), 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad weight %q", ErrMalformedEntry, weightStr)
	}
	if weight <= 0 || weight > 1 {
		return Entry{}, fmt.Errorf("%w: weight %v outside (0,1]", ErrMalformedEntry, weight)
	}

	return Entry{Seed: seed, Weight: weight}, nil
}

// Last returns the most recent entry. ok is false for an empty chain.
func Last(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// AppendAnchored returns chain with anchor:weight appended.
func AppendAnchored(chain string, anchor int64, weight float64) string {
	e := Entry{Seed: anchor, Weight: weight}.String()
	chain = strings.TrimSpace(chain)
	if chain == "" {
		return e
	}
	return chain + entrySep + e
}
