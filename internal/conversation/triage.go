package conversation

import "strings"

// redFlagTerms are symptom phrases that bypass the menu and page a human
// immediately. Matching is substring-based on the normalized text, with and
// without accents, so patients typing quickly still trigger it.
var redFlagTerms = []string{
	"dolor en el pecho",
	"dolor de pecho",
	"no puedo respirar",
	"dificultad para respirar",
	"falta de aire",
	"sangrado abundante",
	"sangrado fuerte",
	"desmayo",
	"me desmaye",
	"convulsion",
	"convulsión",
	"perdida de conocimiento",
	"pérdida de conocimiento",
	"fiebre muy alta",
	"labios morados",
}

// isRedFlag reports whether the normalized text describes an urgent symptom.
func isRedFlag(text string) bool {
	for _, term := range redFlagTerms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
