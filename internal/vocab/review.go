package vocab

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/chinesetutor/pkg/memory"
)

// Prompt is printed after every quiz item.
const Prompt = "Did you recall it? (p=pass / f=fail / q=quit): "

// FormatItem renders an entry as "chinese (pinyin) - english", leaving out
// empty parts, or "(blank)" when every part is empty.
func FormatItem(it memory.VocabItem) string {
	var parts []string
	if it.Chinese != "" {
		parts = append(parts, it.Chinese)
	}
	if it.Pinyin != "" {
		parts = append(parts, "("+it.Pinyin+")")
	}
	if it.English != "" {
		parts = append(parts, "- "+it.English)
	}
	if len(parts) == 0 {
		return "(blank)"
	}
	return strings.Join(parts, " ")
}

// FormatItemWithExample is [FormatItem] followed by "例句: example" when the
// entry has an example sentence.
func FormatItemWithExample(it memory.VocabItem) string {
	if it.Example == "" {
		return FormatItem(it)
	}
	if s := FormatItem(it); s != "(blank)" {
		return s + " 例句: " + it.Example
	}
	return "例句: " + it.Example
}

// ListLine renders one row of the vocabulary listing with its review state.
func ListLine(v memory.Vocab) string {
	last := string(v.LastResult)
	if last == "" {
		last = "-"
	}
	return fmt.Sprintf("%d: %s | seen %d | last=%s", v.ID, FormatItem(v.VocabItem), v.SeenCount, last)
}

// ParseAnswer maps a quiz answer to a result. quit is true for "q".
func ParseAnswer(answer string) (result memory.ReviewResult, quit bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "q":
		return "", true
	case "p", "pass", "y":
		return memory.ResultPass, false
	default:
		return memory.ResultFail, false
	}
}

// ReviewSummary reports what a quiz run recorded.
type ReviewSummary struct {
	Items  int // entries offered
	Passed int
	Failed int
	Quit   bool // stopped with "q" or end of input
}

// Review runs the interactive quiz over up to limit entries picked by
// [memory.Store.VocabForReview]. Every answered entry is recorded immediately;
// "q" or the end of in stops the quiz without recording the current entry.
func Review(ctx context.Context, store memory.Store, in io.Reader, out io.Writer, limit int) (ReviewSummary, error) {
	items, err := store.VocabForReview(ctx, limit)
	if err != nil {
		return ReviewSummary{}, fmt.Errorf("vocab: review: %w", err)
	}
	sum := ReviewSummary{Items: len(items)}
	if len(items) == 0 {
		fmt.Fprintln(out, "No vocab to review. Finish a chat first.")
		return sum, nil
	}

	fmt.Fprintf(out, "Starting quick review for %d items. Type 'q' to stop.\n", len(items))
	sc := bufio.NewScanner(in)
	for _, v := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "[%d] %s\n", v.ID, FormatItem(v.VocabItem))
		if v.Example != "" {
			fmt.Fprintf(out, "例句: %s\n", v.Example)
		}
		fmt.Fprint(out, Prompt)

		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return sum, fmt.Errorf("vocab: review: read answer: %w", err)
			}
			fmt.Fprintln(out)
			sum.Quit = true
			return sum, nil
		}
		result, quit := ParseAnswer(sc.Text())
		if quit {
			sum.Quit = true
			return sum, nil
		}
		if err := store.UpdateVocabResult(ctx, v.ID, result); err != nil {
			return sum, fmt.Errorf("vocab: review: %w", err)
		}
		if result == memory.ResultPass {
			sum.Passed++
		} else {
			sum.Failed++
		}
		slog.Debug("vocab reviewed", "vocab_id", v.ID, "result", result)
	}
	return sum, nil
}
