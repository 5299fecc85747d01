package memory

import "time"

// ReviewResult is the outcome of one review prompt.
type ReviewResult string

// Review outcomes stored in vocab.last_result.
const (
	ResultPass ReviewResult = "pass"
	ResultFail ReviewResult = "fail"
)

// SessionRecord is a finished conversation as handed over for persistence.
type SessionRecord struct {
	StartedAt      time.Time
	EndedAt        time.Time
	TranscriptText string

	// Metadata is stored as JSON. A nil or empty map is stored as NULL.
	Metadata map[string]string
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID        int64
	StartedAt time.Time
	EndedAt   time.Time

	// Snippet holds at most the first [SnippetLength] runes of the transcript.
	Snippet string
}

// SnippetLength is the number of transcript runes included in a [SessionSummary].
const SnippetLength = 120

// VocabItem is a vocabulary entry extracted from a conversation. Any field may
// be empty; fallback items mined from the user's own speech only carry English.
type VocabItem struct {
	English string
	Chinese string
	Pinyin  string
	Example string
}

// Key returns the (english, chinese) pair used to deduplicate items within
// one insert batch.
func (v VocabItem) Key() [2]string { return [2]string{v.English, v.Chinese} }

// Vocab is a stored vocabulary entry with its review history.
type Vocab struct {
	ID int64
	VocabItem

	// SourceSessionID is zero when the source session was deleted or unknown.
	SourceSessionID int64

	CreatedAt  time.Time
	SeenCount  int
	LastSeenAt time.Time    // zero when never reviewed
	LastResult ReviewResult // empty when never reviewed
}

// Dedupe returns items without the entries that repeat an earlier (english,
// chinese) pair. Order is preserved.
func Dedupe(items []VocabItem) []VocabItem {
	seen := make(map[[2]string]struct{}, len(items))
	out := make([]VocabItem, 0, len(items))
	for _, it := range items {
		k := it.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Snippet truncates a transcript to [SnippetLength] runes.
func Snippet(transcript string) string {
	r := []rune(transcript)
	if len(r) <= SnippetLength {
		return transcript
	}
	return string(r[:SnippetLength])
}
