package tasks

import "strings"

// glyphFolds maps letters commonly misread on banking app screens to the
// digits they resemble.
var glyphFolds = strings.NewReplacer(
	"O", "0",
	"I", "1",
	"L", "1",
	"S", "5",
	"Z", "2",
	"B", "8",
	"G", "6",
)

// normalizeSuffix upper-cases the string and folds ambiguous glyphs so a
// code a buyer read off a screen compares equal to the bank's end-to-end id.
func normalizeSuffix(s string) string {
	return glyphFolds.Replace(strings.ToUpper(s))
}

// suffixMatches reports whether the receipt id ends with the buyer's code,
// both normalized.
func suffixMatches(endToEndID, confirmationCode string) bool {
	return strings.HasSuffix(normalizeSuffix(endToEndID), normalizeSuffix(confirmationCode))
}
