// Package filter decides which chat messages grant achievements and which prompts are acceptable.
package filter

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/achievements-bot/resources"
)

const (
	MaxPromptLength = 90
	MaxWordLength   = 20

	allowedPunctuation = ".,!?-'\"():;"
)

var (
	ErrNoKeyPhrase           = errors.New("filter: no key phrase")
	ErrEmptyPrompt           = errors.New("filter: prompt is empty")
	ErrPromptTooLong         = errors.New("filter: prompt is too long")
	ErrWordTooLong           = errors.New("filter: word is too long")
	ErrUnsupportedCharacters = errors.New("filter: unsupported characters")
)

// Filter matches key phrases and banned words.
type Filter struct {
	keyPhrases []string
	banned     map[string]struct{}
}

// New builds a filter from explicit lists. Longer key phrases win over their prefixes.
func New(keyPhrases, bannedWords []string) *Filter {
	phrases := make([]string, 0, len(keyPhrases))
	for _, phrase := range keyPhrases {
		if phrase = strings.TrimSpace(phrase); phrase != "" {
			phrases = append(phrases, phrase)
		}
	}
	sort.SliceStable(phrases, func(i, j int) bool { return len(phrases[i]) > len(phrases[j]) })

	banned := make(map[string]struct{}, len(bannedWords))
	for _, word := range bannedWords {
		if word = strings.ToLower(strings.TrimSpace(word)); word != "" {
			banned[word] = struct{}{}
		}
	}
	return &Filter{keyPhrases: phrases, banned: banned}
}

// Load reads the lists from the given paths; an empty path selects the embedded default.
func Load(keyPhrasesPath, bannedWordsPath string) (*Filter, error) {
	keyPhrases, err := readList(keyPhrasesPath, resources.KeyPhrases)
	if err != nil {
		return nil, fmt.Errorf("filter: key phrases: %w", err)
	}
	bannedWords, err := readList(bannedWordsPath, resources.BannedWords)
	if err != nil {
		return nil, fmt.Errorf("filter: banned words: %w", err)
	}
	return New(keyPhrases, bannedWords), nil
}

func readList(path string, fallback []byte) ([]string, error) {
	data := fallback
	if path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = contents
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// HasKeyPhrase reports whether the message starts with any key phrase.
func (f *Filter) HasKeyPhrase(message string) bool {
	_, ok := f.matchKeyPhrase(message)
	return ok
}

// DetectPrompt strips the key phrase and returns the normalized remainder.
func (f *Filter) DetectPrompt(message string) (string, error) {
	phrase, ok := f.matchKeyPhrase(message)
	if !ok {
		return "", ErrNoKeyPhrase
	}
	prompt := NormalizePrompt(strings.TrimPrefix(strings.TrimSpace(message), phrase))
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	return prompt, nil
}

func (f *Filter) matchKeyPhrase(message string) (string, bool) {
	message = strings.TrimSpace(message)
	for _, phrase := range f.keyPhrases {
		if strings.HasPrefix(message, phrase) {
			return phrase, true
		}
	}
	return "", false
}

// HasBannedWords reports whether any word of the prompt is on the banned list.
func (f *Filter) HasBannedWords(prompt string) bool {
	for _, word := range strings.Fields(strings.ToLower(prompt)) {
		word = strings.TrimFunc(word, unicode.IsPunct)
		if _, banned := f.banned[word]; banned {
			return true
		}
	}
	return false
}

// CheckFormat enforces the length and alphabet limits of achievement prompts.
func CheckFormat(prompt string) error {
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return ErrPromptTooLong
	}
	for _, word := range strings.Fields(prompt) {
		if utf8.RuneCountInString(word) > MaxWordLength {
			return ErrWordTooLong
		}
	}
	for _, r := range prompt {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || strings.ContainsRune(allowedPunctuation, r) {
			continue
		}
		return ErrUnsupportedCharacters
	}
	return nil
}

// NormalizePrompt trims the prompt and collapses internal whitespace.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}
