package intent

import "math"

// Fuse combines the lexical and semantic results. Agreement keeps the shared
// intent at the higher confidence; disagreement goes to the more confident
// side, and ties go to lexical.
func Fuse(lexical, semantic Result) Result {
	if lexical.Intent == semantic.Intent {
		return Result{
			Intent:     lexical.Intent,
			Confidence: math.Max(lexical.Confidence, semantic.Confidence),
		}
	}
	if semantic.Confidence > lexical.Confidence {
		return semantic
	}
	return lexical
}
