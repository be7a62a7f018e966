// ABOUTME: Content fingerprinting for output lists
// ABOUTME: Detects meaningful upstream changes so the watcher only broadcasts real diffs
package model

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sort"
)

// fingerprintEntry is the canonical reduction of an output for digesting.
// Default annotations are deliberately excluded: they come from local
// storage, not from OwnTone, and must not mask or duplicate an
// upstream-driven change.
type fingerprintEntry struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
	Volume   int    `json:"volume"`
}

// Fingerprint computes an order-independent digest of an output list.
// Two lists that differ only in default annotations fingerprint equal.
func Fingerprint(outs []Output) string {
	entries := make([]fingerprintEntry, 0, len(outs))
	for _, o := range outs {
		entries = append(entries, fingerprintEntry{
			ID:       o.ID,
			Name:     o.Name,
			Selected: o.Selected,
			Volume:   o.Volume,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	// Struct field order is fixed, so the encoding is canonical.
	data, err := json.Marshal(entries)
	if err != nil {
		// Marshaling plain ints/strings/bools cannot fail.
		panic(err)
	}
	return fmt.Sprintf("%x", sha1.Sum(data))
}
