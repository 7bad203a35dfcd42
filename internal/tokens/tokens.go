// Package tokens approximates language model token counts.
package tokens

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Estimate roughly guesses how many model tokens text costs by averaging a
// characters/4 estimate with a words*0.75 estimate.
//
// TODO: replace with a real BPE tokenizer for the configured model.
func Estimate(text string) int {
	byChars := float64(utf8.RuneCountInString(text)) / 4
	byWords := float64(len(strings.Fields(text))) * 0.75

	return int(math.Round((byChars + byWords) / 2))
}
