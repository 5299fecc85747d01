package vocab_test

import (
	"reflect"
	"testing"

	"github.com/MrWong99/chinesetutor/internal/vocab"
	"github.com/MrWong99/chinesetutor/pkg/memory"
)

func TestAgentItems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []memory.VocabItem
	}{
		{
			name: "review list with pinyin and examples",
			text: "快速复习一下： 1) 超市 (chāoshì) — grocery store — 例句：我下班后去超市买牛奶。 " +
				"2) 睡过头 — oversleep — 例句：今天早上我睡过头了。",
			want: []memory.VocabItem{
				{Chinese: "超市", Pinyin: "chāoshì", English: "grocery store", Example: "我下班后去超市买牛奶。"},
				{Chinese: "睡过头", English: "oversleep", Example: "今天早上我睡过头了。"},
			},
		},
		{
			name: "ascii hyphens and no example",
			text: "1) 水 (shuǐ) - water\n2) 茶 (chá) - tea",
			want: []memory.VocabItem{
				{Chinese: "水", Pinyin: "shuǐ", English: "water"},
				{Chinese: "茶", Pinyin: "chá", English: "tea"},
			},
		},
		{
			name: "full-width parentheses",
			text: "1）咖啡（kāfēi）— coffee — 例句: 我喜欢咖啡。",
			want: []memory.VocabItem{
				{Chinese: "咖啡", Pinyin: "kāfēi", English: "coffee", Example: "我喜欢咖啡。"},
			},
		},
		{
			name: "numbering without a gloss is ignored",
			text: "我们有 3) 个问题。",
			want: nil,
		},
		{
			name: "no list",
			text: "你好！你今天想学什么？",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := vocab.AgentItems(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AgentItems() =\n  %+v\nwant\n  %+v", got, tt.want)
			}
		})
	}
}

func TestEnglishRuns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"mixed sentence", "我今天 I went to the grocery store and overslept again.", []string{"I went to the grocery store and overslept again"}},
		{"stop words alone", "我 I 想要 a 东西 the 好", nil},
		{"single letter", "B 计划", nil},
		{"collapses whitespace", "我要 credit   card 谢谢", []string{"credit card"}},
		{"apostrophe and hyphen", "我 don't know 这个 well-known 词", []string{"don't know", "well-known"}},
		{"no english", "我想学习中文", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := vocab.EnglishRuns(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EnglishRuns(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	agent := "1) 超市 (chāoshì) — grocery store — 例句：我下班后去超市买牛奶。"
	user := "我想去 grocery store 买 milk"

	got := vocab.Extract(agent, user)
	want := []memory.VocabItem{
		{Chinese: "超市", Pinyin: "chāoshì", English: "grocery store", Example: "我下班后去超市买牛奶。"},
		{English: "milk"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Extract() =\n  %+v\nwant\n  %+v", got, want)
	}
}

func TestExtractEmpty(t *testing.T) {
	t.Parallel()

	if got := vocab.Extract("", ""); len(got) != 0 {
		t.Fatalf("Extract(empty) = %+v, want none", got)
	}
}
