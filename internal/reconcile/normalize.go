package reconcile

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeText folds text into the form used for loose equality: Unicode NFC,
// leading and trailing whitespace trimmed, and inner runs of whitespace
// collapsed into a single space.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// textEqual reports exact or whitespace-normalized equality
func textEqual(a, b string) (equal bool, exact bool) {
	if a == b {
		return true, true
	}
	return normalizeText(a) == normalizeText(b), false
}
