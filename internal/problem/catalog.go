// Package problem produces puzzle problems deterministically: a fixed catalog
// keyed by seed hash, and procedurally generated variants re-derivable from
// {seed, topic, nonce} alone. Nothing here keeps state between calls, which
// is what lets submit reconstruct a problem without a database read.
package problem

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
)

var catalog = []domain.Problem{
	{
		ID:     "q-mental-01",
		Type:   domain.ProblemTypeShort,
		Prompt: "What is 17 × 4 − 13?",
		Answer: "55",
	},
	{
		ID:     "q-string-01",
		Type:   domain.ProblemTypeShort,
		Prompt: "Reverse the word 'stressed' and give the 3rd character of the result.",
		Answer: "E",
	},
	{
		ID:      "q-logic-01",
		Type:    domain.ProblemTypeMCQ,
		Prompt:  "Odd one out:",
		Choices: []string{"SQUARE", "TRIANGLE", "CIRCLE", "RECTANGLE"},
		Answer:  "CIRCLE",
	},
	{
		ID:     "q-emoji-01",
		Type:   domain.ProblemTypeShort,
		Prompt: "If 😀=3 and 😎=5, what is 😀+😎?",
		Answer: "8",
	},
	{
		ID:     "q-seq-01",
		Type:   domain.ProblemTypeShort,
		Prompt: "Fill the blank: 2, 3, 5, 8, 13, __",
		Answer: "21",
	},
	{
		ID:     "q-text-01",
		Type:   domain.ProblemTypeShort,
		Prompt: "Uppercase the last 3 letters of 'banana' and reverse them.",
		Answer: "ANA",
	},
	{
		ID:      "q-math-02",
		Type:    domain.ProblemTypeMCQ,
		Prompt:  "Which equals 3?",
		Choices: []string{"7-3", "10/3", "9/3", "2+2"},
		Answer:  "9/3",
	},
	{
		ID:     "q-letters-01",
		Type:   domain.ProblemTypeShort,
		Prompt: "Take 'HUMAN', shift each letter back by 1, then give the middle letter.",
		Answer: "L",
	},
}

// ByID looks a problem up in the fixed catalog only.
func ByID(id string) (domain.Problem, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Problem{}, false
}

// SelectForSeed picks a catalog problem deterministically: same seed, same
// problem, across process restarts.
func SelectForSeed(seed string) domain.Problem {
	return catalog[int(fold32(seed))%len(catalog)]
}

// fold32 reduces a string to the big-endian fold of the first four bytes of
// its SHA-256 digest.
func fold32(s string) uint32 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}
