package classify

import "strings"

// keywordHints are cheap lexical signals included in the classification
// prompt. They nudge the model, they never decide routing.
var keywordHints = map[ContentType][]string{
	TypeLogic: {
		"shall", "must", "is required", "threshold", "exceeds", "at least",
		"verpflichtet", "gilt", "beträgt", "höchstens", "mindestens",
	},
	TypeProcess: {
		"step 1", "first,", "then", "submit", "apply", "register",
		"schritt", "antrag", "einreichen", "frist",
	},
	TypeReference: {
		"iban", "bic", "table", "code", "office", "zuständig",
		"kennzahl", "verzeichnis",
	},
	TypeDocument: {
		"download", "pdf", "form", "formular", "vordruck", "muster",
	},
	TypeTransitional: {
		"until", "from 1", "transitional", "übergangsregelung",
		"ab dem", "bis zum", "stichtag", "weiterhin anzuwenden",
	},
}

// Hints returns the content types whose keywords appear in text, as
// "TYPE:keyword" strings for the prompt.
func Hints(text string) []string {
	lower := strings.ToLower(text)
	var hints []string
	for _, t := range []ContentType{TypeLogic, TypeProcess, TypeReference, TypeDocument, TypeTransitional} {
		for _, kw := range keywordHints[t] {
			if strings.Contains(lower, kw) {
				hints = append(hints, string(t)+":"+kw)
				break
			}
		}
	}
	return hints
}
