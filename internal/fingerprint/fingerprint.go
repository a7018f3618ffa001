// Package fingerprint reduces availability snapshots to stable signatures and
// decides when a change is worth a notification.
package fingerprint

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"tixwatch/internal/extract"
	"tixwatch/internal/model"
)

// NotAvailable is the signature of an indeterminate snapshot. It is never
// persisted.
const NotAvailable = "NA"

// SoldOut is the signature recorded for a confirmed sold-out page.
var SoldOut = hash("soldout")

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Signature computes the fingerprint of a snapshot.
//
// Section snapshots hash their "label:count" pairs ordered by descending
// count, then label, so section insertion order does not matter. Text
// snapshots hash the normalized page text followed by the call-to-action
// labels.
func Signature(s *extract.Snapshot) string {
	switch s.Outcome() {
	case model.OutcomeSoldOut:
		return SoldOut
	case model.OutcomeIndeterminate:
		return NotAvailable
	}
	if s.TextMode {
		return hash(s.Text + "\n\nBTN:" + strings.Join(s.Buttons, "|"))
	}
	return hash(strings.Join(SortedPairs(s.Sections), "\n"))
}

// SortedPairs renders sections as "label:count" ordered by descending count,
// then label. Sections with a non-positive count are skipped.
func SortedPairs(sections map[string]int) []string {
	type pair struct {
		label string
		count int
	}
	pairs := make([]pair, 0, len(sections))
	for label, count := range sections {
		if count > 0 {
			pairs = append(pairs, pair{label, count})
		}
	}
	slices.SortFunc(pairs, func(a, b pair) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return strings.Compare(a.label, b.label)
	})

	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = fmt.Sprintf("%s:%d", p.label, p.count)
	}
	return out
}

// ShouldNotify reports whether a check result warrants a notification: there
// must be positive evidence, and either nothing was recorded before or the
// signature moved.
func ShouldNotify(signature, lastSignature string, firstRun, positive bool) bool {
	return positive && (firstRun || signature != lastSignature)
}

// Verdict is the change-detection result for one check.
type Verdict struct {
	Signature string
	Outcome   model.Outcome
	Notify    bool
	// Record is false when the stored signature must be left untouched.
	Record bool
}

// Evaluate compares a snapshot against the last recorded signature. A nil
// last means the task has never been checked.
func Evaluate(s *extract.Snapshot, last *string) Verdict {
	sig := Signature(s)
	outcome := s.Outcome()

	prev := ""
	if last != nil {
		prev = *last
	}
	return Verdict{
		Signature: sig,
		Outcome:   outcome,
		Notify:    ShouldNotify(sig, prev, last == nil, s.Positive()),
		Record:    outcome != model.OutcomeIndeterminate,
	}
}
