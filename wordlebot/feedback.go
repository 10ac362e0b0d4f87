package wordlebot

import (
	"encoding/json"
	"strings"
)

// WordLength is the number of characters in every target word and guess
const WordLength = 5

// Mark is the result for a single position of a guess
type Mark uint8

const (
	// MarkAbsent indicates the letter doesn't appear in the target (or every
	// occurrence of it has already been credited)
	MarkAbsent Mark = iota

	// MarkPresent indicates the letter appears in the target, but
	// at a different position
	MarkPresent

	// MarkCorrect indicates the letter is in the correct position
	MarkCorrect
)

func (m Mark) String() string {
	switch m {
	case MarkCorrect:
		return "correct"
	case MarkPresent:
		return "present"
	default:
		return "absent"
	}
}

// Emoji returns the square used to render the mark in Discord
func (m Mark) Emoji() string {
	switch m {
	case MarkCorrect:
		return "🟩"
	case MarkPresent:
		return "🟨"
	default:
		return "⬛"
	}
}

func (m Mark) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// Pattern is the per-position feedback for a guess
type Pattern [WordLength]Mark

// String renders the pattern as a row of emoji squares
func (p Pattern) String() string {
	var sb strings.Builder
	for _, m := range p {
		sb.WriteString(m.Emoji())
	}
	return sb.String()
}

// Solved returns true if every position is [MarkCorrect]
func (p Pattern) Solved() bool {
	for _, m := range p {
		if m != MarkCorrect {
			return false
		}
	}
	return true
}

// ScorePattern compares guess against target using the two-pass algorithm.
//
// The first pass marks exact matches and removes them from the pool of
// target letters. The second pass credits displaced letters only while
// the pool still holds an unmatched copy, so duplicate letters in the
// guess are never credited more times than they appear in the target.
//
// Both words are expected to be [WordLength] ASCII characters. Positions
// beyond the shorter of the two are marked [MarkAbsent].
func ScorePattern(target, guess string) Pattern {
	var p Pattern
	var remaining [256]int

	n := min(len(target), len(guess), WordLength)

	for i := 0; i < len(target) && i < WordLength; i++ {
		remaining[target[i]]++
	}

	for i := 0; i < n; i++ {
		if guess[i] == target[i] {
			p[i] = MarkCorrect
			remaining[guess[i]]--
		}
	}

	for i := 0; i < n; i++ {
		if p[i] == MarkCorrect {
			continue
		}
		if remaining[guess[i]] > 0 {
			p[i] = MarkPresent
			remaining[guess[i]]--
		}
	}
	return p
}
