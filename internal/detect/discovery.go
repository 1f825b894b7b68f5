package detect

import (
	"regexp"
	"sort"
	"strings"
)

// captionStopwords split a caption into candidate noun chunks. Besides
// function words they include framing vocabulary ("aerial view of",
// "a photo of") that captioning models emit constantly.
var captionStopwords = wordSet(
	"a", "an", "the", "and", "or", "of", "to", "in", "on", "at",
	"with", "for", "from", "by", "as", "is", "are", "was", "were",
	"this", "that", "these", "those", "it", "its", "their", "his", "her",
	"aerial", "view", "photo", "image", "picture", "scene", "background",
	"front", "back", "left", "right", "top", "bottom",
	"large", "small", "many", "over",
	"group", "people", "person", "man", "woman", "men", "women",
	"someone", "something", "someone's", "something's",
)

// genericBlocklist drops scenery phrases that dominate outdoor footage
// but carry no entity signal.
var genericBlocklist = wordSet(
	"sky", "water", "sea", "ocean", "cloud", "clouds",
	"ground", "field", "mountain", "mountains", "forest", "trees",
)

// militaryLexicon gates discovery candidates in only-military mode: a
// candidate survives when the whole phrase or any of its words is listed.
var militaryLexicon = wordSet(
	"military", "army", "navy", "naval", "marine", "air",
	"soldier", "troop", "infantry", "commando", "sniper", "gunner", "crew",
	"tank", "artillery", "howitzer", "mortar",
	"armored", "armoured", "armor", "armour", "apc", "ifv",
	"weapon", "rifle", "gun", "cannon", "missile", "rocket",
	"grenade", "launcher", "ammunition", "turret",
	"drone", "uav", "aircraft", "jet", "fighter", "bomber",
	"helicopter", "gunship",
	"warship", "ship", "vessel", "carrier", "submarine", "destroyer",
	"frigate", "corvette",
	"radar", "convoy", "camouflage", "uniform", "truck", "vehicle",
	"barrack", "regiment", "battalion", "brigade", "humvee", "jeep",
)

var nonCaptionChars = regexp.MustCompile(`[^a-z0-9\s-]`)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// CaptionEntities extracts candidate entity phrases from one caption.
// The caption is lowercased and split into chunks at stopwords; every
// 1..3-word n-gram of a chunk becomes a candidate, filtered against the
// blocklist, de-pluralized per word and de-duplicated. Longer phrases
// sort first so the maxPhrases cap prefers the most descriptive ones.
func CaptionEntities(caption string, maxPhrases int, onlyMilitary bool) []string {
	text := strings.ToLower(caption)
	text = nonCaptionChars.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "-", " ")

	var chunks [][]string
	var current []string
	for _, token := range strings.Fields(text) {
		if _, stop := captionStopwords[token]; stop {
			if len(current) > 0 {
				chunks = append(chunks, current)
				current = nil
			}
			continue
		}
		current = append(current, token)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	seen := make(map[string]struct{})
	var phrases []string
	for _, chunk := range chunks {
		maxN := len(chunk)
		if maxN > 3 {
			maxN = 3
		}
		for n := 1; n <= maxN; n++ {
			for i := 0; i+n <= len(chunk); i++ {
				phrase := strings.Join(chunk[i:i+n], " ")
				if len(phrase) < 3 || allDigits(phrase) {
					continue
				}
				if _, blocked := genericBlocklist[phrase]; blocked {
					continue
				}
				normalized := depluralizeWords(phrase)
				if normalized == "" {
					continue
				}
				if _, blocked := genericBlocklist[normalized]; blocked {
					continue
				}
				if onlyMilitary && !inMilitaryLexicon(normalized) {
					continue
				}
				if _, dup := seen[normalized]; dup {
					continue
				}
				seen[normalized] = struct{}{}
				phrases = append(phrases, normalized)
			}
		}
	}

	sort.Slice(phrases, func(i, j int) bool {
		wi := strings.Count(phrases[i], " ")
		wj := strings.Count(phrases[j], " ")
		if wi != wj {
			return wi > wj
		}
		return phrases[i] < phrases[j]
	})
	if maxPhrases > 0 && len(phrases) > maxPhrases {
		phrases = phrases[:maxPhrases]
	}
	return phrases
}

func depluralizeWords(phrase string) string {
	words := strings.Fields(phrase)
	for i, w := range words {
		if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
			words[i] = strings.TrimSuffix(w, "s")
		}
	}
	return strings.Join(words, " ")
}

func inMilitaryLexicon(phrase string) bool {
	if _, ok := militaryLexicon[phrase]; ok {
		return true
	}
	for _, w := range strings.Fields(phrase) {
		if _, ok := militaryLexicon[w]; ok {
			return true
		}
	}
	return false
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
