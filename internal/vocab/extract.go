// Package vocab turns finished conversations into vocabulary entries and
// runs the spaced review quiz over them.
package vocab

import (
	"regexp"
	"strings"

	"github.com/MrWong99/chinesetutor/pkg/memory"
)

// itemMarker finds the "1)" style numbering the agent uses for its review
// lists. Full-width parentheses are accepted.
var itemMarker = regexp.MustCompile(`\d+[)）]`)

// itemLine parses one numbered review entry, e.g.
//
//	超市 (chāoshì) — grocery store — 例句：我下班后去超市买牛奶。
var itemLine = regexp.MustCompile(
	`^\s*([^(（\n—–-]+?)\s*` + // chinese
		`(?:[(（]([^)）]+)[)）])?\s*` + // optional pinyin
		`[—–-]\s*([^—–\n-]+)` + // english
		`(?:[—–-]\s*例句[：:]?\s*([^\n]+))?`, // optional example
)

var englishRun = regexp.MustCompile(`[A-Za-z][A-Za-z\s'\-]+`)

var stopWords = map[string]struct{}{"i": {}, "the": {}, "a": {}}

// Extract returns the vocabulary found in a conversation: first every
// numbered review entry of the agent's text, then every English phrase the
// user fell back to that the agent did not already cover.
func Extract(agentText, userText string) []memory.VocabItem {
	items := AgentItems(agentText)
	known := make(map[string]struct{}, len(items))
	for _, it := range items {
		known[it.English] = struct{}{}
	}
	for _, phrase := range EnglishRuns(userText) {
		if _, ok := known[phrase]; ok {
			continue
		}
		items = append(items, memory.VocabItem{English: phrase})
	}
	return items
}

// AgentItems parses the numbered review entries of the agent's text. Each
// entry runs from its marker to the next marker; entries without a Chinese
// term or an English gloss are skipped.
func AgentItems(text string) []memory.VocabItem {
	marks := itemMarker.FindAllStringIndex(text, -1)
	var items []memory.VocabItem
	for i, m := range marks {
		end := len(text)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		sub := itemLine.FindStringSubmatch(text[m[1]:end])
		if sub == nil {
			continue
		}
		it := memory.VocabItem{
			Chinese: strings.TrimSpace(sub[1]),
			Pinyin:  strings.TrimSpace(sub[2]),
			English: strings.TrimSpace(sub[3]),
			Example: strings.TrimSpace(sub[4]),
		}
		if it.Chinese == "" || it.English == "" {
			continue
		}
		items = append(items, it)
	}
	return items
}

// EnglishRuns returns the English phrases embedded in text with whitespace
// collapsed. Single letters and the words "i", "the" and "a" are skipped.
func EnglishRuns(text string) []string {
	var out []string
	for _, m := range englishRun.FindAllString(text, -1) {
		phrase := strings.Join(strings.Fields(m), " ")
		if len(phrase) < 2 {
			continue
		}
		if _, stop := stopWords[strings.ToLower(phrase)]; stop {
			continue
		}
		out = append(out, phrase)
	}
	return out
}
