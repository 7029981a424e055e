package filter

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetectPromptUsesLongestKeyPhrase(t *testing.T) {
	f := New([]string{"выдаю ачивку", "выдаю ачивку за"}, nil)

	prompt, err := f.DetectPrompt("выдаю ачивку за   победу  в шахматах ")
	if err != nil {
		t.Fatalf("detect prompt: %v", err)
	}
	if prompt != "победу в шахматах" {
		t.Fatalf("unexpected prompt %q", prompt)
	}
}

func TestDetectPromptErrors(t *testing.T) {
	f := New([]string{"drop an achievement for"}, nil)

	if _, err := f.DetectPrompt("hello there"); !errors.Is(err, ErrNoKeyPhrase) {
		t.Fatalf("expected ErrNoKeyPhrase, got %v", err)
	}
	if _, err := f.DetectPrompt("drop an achievement for   "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if f.HasKeyPhrase("please drop an achievement for me") {
		t.Fatalf("key phrase must be a prefix")
	}
}

func TestHasBannedWordsIgnoresCaseAndPunctuation(t *testing.T) {
	f := New(nil, []string{"Darn"})
	if !f.HasBannedWords("being DARN good!") {
		t.Fatalf("expected banned word to match")
	}
	if !f.HasBannedWords("darn!") {
		t.Fatalf("expected trailing punctuation to be ignored")
	}
	if f.HasBannedWords("darning socks") {
		t.Fatalf("partial words must not match")
	}
}

func TestCheckFormat(t *testing.T) {
	testCases := []struct {
		name   string
		prompt string
		want   error
	}{
		{name: "plain", prompt: "winning the chess cup, again!", want: nil},
		{name: "cyrillic", prompt: "победа в шахматах", want: nil},
		{name: "too long", prompt: strings.Repeat("a ", 46), want: ErrPromptTooLong},
		{name: "long word", prompt: "supercalifragilisticexpialidocious", want: ErrWordTooLong},
		{name: "emoji", prompt: "chess 🏆", want: ErrUnsupportedCharacters},
		{name: "markup", prompt: "<b>chess</b>", want: ErrUnsupportedCharacters},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if err := CheckFormat(testCase.prompt); !errors.Is(err, testCase.want) {
				t.Fatalf("CheckFormat(%q) = %v, want %v", testCase.prompt, err, testCase.want)
			}
		})
	}
}

func TestNormalizePrompt(t *testing.T) {
	if got := NormalizePrompt("  won \t the\n cup  "); got != "won the cup" {
		t.Fatalf("unexpected normalization %q", got)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	defaults, err := Load("", "")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if !defaults.HasKeyPhrase("drop an achievement for being kind") {
		t.Fatalf("embedded key phrases not loaded")
	}

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(keyPath, []byte("gg for\n\n"), 0o600); err != nil {
		t.Fatalf("write key phrases: %v", err)
	}
	custom, err := Load(keyPath, "")
	if err != nil {
		t.Fatalf("load custom: %v", err)
	}
	prompt, err := custom.DetectPrompt("gg for the win")
	if err != nil || prompt != "the win" {
		t.Fatalf("unexpected prompt %q err %v", prompt, err)
	}

	if _, err := Load(filepath.Join(dir, "missing.txt"), ""); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
