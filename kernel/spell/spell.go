// Package spell implements a small edit-distance word corrector applied
// to questions before pattern matching. Unknown words correct to their
// most frequent known neighbor one edit away; words already in the
// dictionary, and words with no close neighbor, pass through unchanged.
package spell

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// Corrector holds a frequency dictionary. Immutable after construction,
// safe for concurrent use.
type Corrector struct {
	freq map[string]int
}

// New builds a corrector from raw text. Every alphabetic token in the
// text counts toward the word's frequency, so plain word lists and full
// prose corpora both work.
func New(text string) *Corrector {
	freq := make(map[string]int)
	for _, word := range tokenize(strings.ToLower(text)) {
		freq[word]++
	}
	return &Corrector{freq: freq}
}

// NewFromFile builds a corrector from a corpus file.
func NewFromFile(path string) (*Corrector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spell: open corpus: %w", err)
	}
	defer f.Close()

	freq := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		for _, word := range tokenize(strings.ToLower(scanner.Text())) {
			freq[word]++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("spell: read corpus: %w", err)
	}
	return &Corrector{freq: freq}, nil
}

// Known reports whether the word is in the dictionary.
func (c *Corrector) Known(word string) bool {
	_, ok := c.freq[strings.ToLower(word)]
	return ok
}

// Correct returns the best correction for a single word. Known words
// return as given; unknown words with a known neighbor one edit away
// return the most frequent such neighbor, case folded to lower. Words
// with no candidate return as given.
func (c *Corrector) Correct(word string) string {
	lower := strings.ToLower(word)
	if lower == "" || c.Known(lower) {
		return word
	}
	best, bestFreq := "", 0
	for _, candidate := range edits1(lower) {
		if n := c.freq[candidate]; n > bestFreq {
			best, bestFreq = candidate, n
		}
	}
	if best == "" {
		return word
	}
	return best
}

// CorrectAll corrects each word of an utterance independently,
// preserving the punctuation and spacing around the words.
func (c *Corrector) CorrectAll(utterance string) string {
	var b strings.Builder
	b.Grow(len(utterance))
	start := -1
	flush := func(end int) {
		if start >= 0 {
			b.WriteString(c.Correct(utterance[start:end]))
			start = -1
		}
	}
	for i, r := range utterance {
		if unicode.IsLetter(r) || r == '\'' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
		b.WriteRune(r)
	}
	flush(len(utterance))
	return b.String()
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// edits1 enumerates every string one edit away from the word:
// deletions, transpositions, replacements and insertions.
func edits1(word string) []string {
	var out []string
	for i := 0; i <= len(word); i++ {
		left, right := word[:i], word[i:]
		if right != "" {
			out = append(out, left+right[1:]) // delete
		}
		if len(right) > 1 {
			out = append(out, left+string(right[1])+string(right[0])+right[2:]) // transpose
		}
		for _, ch := range alphabet {
			if right != "" {
				out = append(out, left+string(ch)+right[1:]) // replace
			}
			out = append(out, left+string(ch)+right) // insert
		}
	}
	return out
}
