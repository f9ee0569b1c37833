package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ProductID derives the stable catalog key from brand and size, e.g.
// "Château Margaux" + "750 ml" becomes "chateau-margaux-750-ml".
func ProductID(brand, size string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, brand+" "+size)
	if err != nil {
		folded = brand + " " + size
	}
	slug := nonAlnum.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(slug, "-")
}

var (
	volumePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(ml|cl|ltr|litres?|liters?|l)?\b`)
	bareNumber    = regexp.MustCompile(`^\s*\d+(?:\.\d+)?\s*$`)
)

// ParseVolume extracts the capacity in milliliters from a free-form size.
// The last number carrying a unit wins ("12 YO 750ml" is 750, "6 x 330ml"
// is 330). A unitless number is accepted only when it is the whole size.
func ParseVolume(size string) (int64, error) {
	var m []string
	for _, candidate := range volumePattern.FindAllStringSubmatch(size, -1) {
		if candidate[2] != "" {
			m = candidate
		}
	}
	if m == nil {
		if !bareNumber.MatchString(size) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidVolume, size)
		}
		m = []string{size, strings.TrimSpace(size), ""}
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVolume, size)
	}
	switch strings.ToLower(m[2]) {
	case "l", "ltr", "litre", "litres", "liter", "liters":
		n *= 1000
	case "cl":
		n *= 10
	}
	ml := int64(n + 0.5)
	if ml <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVolume, size)
	}
	return ml, nil
}
