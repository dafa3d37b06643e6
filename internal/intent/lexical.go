package intent

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var (
	affirmative = map[string]struct{}{
		"yes": {}, "aye": {}, "agree": {}, "approve": {}, "support": {}, "favor": {},
	}
	negative = map[string]struct{}{
		"no": {}, "nay": {}, "disagree": {}, "disapprove": {}, "oppose": {}, "against": {},
	}
)

// Tokenize folds case and splits on every rune that is neither a letter nor a digit.
func Tokenize(text string) []string {
	folded := cases.Fold().String(text)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Score classifies a transcript by counting affirmative and negative keywords.
func Score(text string) Result {
	var yesScore, noScore int
	for _, token := range Tokenize(text) {
		if _, ok := affirmative[token]; ok {
			yesScore++
		}
		if _, ok := negative[token]; ok {
			noScore++
		}
	}

	total := yesScore + noScore
	if total == 0 {
		return Result{Intent: Unclear, Confidence: 0}
	}

	decided := No
	if yesScore > noScore {
		decided = Yes
	}
	return Result{
		Intent:     decided,
		Confidence: math.Abs(float64(yesScore-noScore)) / float64(total),
	}
}
