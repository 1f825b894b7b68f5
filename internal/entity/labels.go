package entity

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// canonicalAliases maps normalized phrases to their canonical label.
// Applied after NormalizeLabel, before the substring heuristics.
var canonicalAliases = map[string]string{
	"naval ship":                 "warship",
	"military ship":              "warship",
	"carrier ship":               "aircraft carrier",
	"naval carrier":              "aircraft carrier",
	"carrier vessel":             "aircraft carrier",
	"aircraft-carrier":           "aircraft carrier",
	"fighter aircraft":           "fighter jet",
	"combat aircraft":            "fighter jet",
	"attack helicopter":          "military helicopter",
	"combat helicopter":          "military helicopter",
	"gunship helicopter":         "military helicopter",
	"helicopter gunship":         "military helicopter",
	"armored vehicle":            "military vehicle",
	"armoured vehicle":           "military vehicle",
	"armored car":                "military vehicle",
	"armoured car":               "military vehicle",
	"armored personnel carrier":  "military vehicle",
	"armoured personnel carrier": "military vehicle",
	"apc":                        "military vehicle",
	"ifv":                        "military vehicle",
	"main battle tank":           "tank",
	"armored tank":               "tank",
	"armoured tank":              "tank",
	"self propelled gun":         "artillery",
	"self-propelled gun":         "artillery",
	"unmanned aerial vehicle":    "drone",
	"unmanned aircraft":          "drone",
	"machine gun":                "weapon",
	"surface to air missile":     "missile",
}

// DefaultLabelMap rewrites generic object-detector classes into the
// domain vocabulary. Classes absent from the map pass through unchanged.
func DefaultLabelMap() map[string]string {
	return map[string]string{
		"person":       "military personnel",
		"car":          "military vehicle",
		"bus":          "military vehicle",
		"motorcycle":   "military vehicle",
		"bicycle":      "military vehicle",
		"train":        "military vehicle",
		"boat":         "military vehicle",
		"truck":        "armored vehicle",
		"airplane":     "aircraft",
		"helicopter":   "helicopter",
		"knife":        "weapon",
		"scissors":     "weapon",
		"baseball bat": "weapon",
		"backpack":     "equipment",
		"handbag":      "equipment",
		"suitcase":     "equipment",
		"laptop":       "equipment",
		"cell phone":   "equipment",
		"remote":       "equipment",
	}
}

// NormalizeLabel applies Unicode NFKC normalization, lowercases, collapses
// internal whitespace to single spaces and trims. Labels that come back
// empty are dropped by the caller.
func NormalizeLabel(raw string) string {
	s := norm.NFKC.String(raw)
	s = strings.ToLower(s)
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}

// CanonicalizeLabel folds known aliases and near-duplicate phrasings of a
// normalized label into one canonical form. The input must already be
// normalized.
func CanonicalizeLabel(label string) string {
	if label == "" {
		return label
	}
	if canonical, ok := canonicalAliases[label]; ok {
		return canonical
	}
	if strings.Contains(label, "carrier") && (strings.Contains(label, "aircraft") || strings.Contains(label, "naval")) {
		return "aircraft carrier"
	}
	if strings.Contains(label, "fighter") && (strings.Contains(label, "jet") || strings.Contains(label, "aircraft")) {
		return "fighter jet"
	}
	singular := depluralize(label)
	if canonical, ok := canonicalAliases[singular]; ok {
		return canonical
	}
	return singular
}

// depluralize strips a trailing "s" from the last word of a phrase when the
// word is long enough that the strip is safe ("tanks" -> "tank", "gas" stays).
func depluralize(label string) string {
	words := strings.Split(label, " ")
	last := words[len(words)-1]
	if len(last) > 3 && strings.HasSuffix(last, "s") && !strings.HasSuffix(last, "ss") {
		words[len(words)-1] = strings.TrimSuffix(last, "s")
	}
	return strings.Join(words, " ")
}
