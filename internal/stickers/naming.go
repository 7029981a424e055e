package stickers

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxCollectionNameLength is the platform limit for collection names.
	MaxCollectionNameLength = 64
	// MaxCollectionTitleLength is the platform limit for collection titles.
	MaxCollectionTitleLength = 64

	namePrefixLength = 16
	nameAlphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// NameGenerator produces collection names ending in the bot suffix.
type NameGenerator struct {
	botName string
	intN    func(n int) int
}

// NewNameGenerator returns a generator for the given bot username.
// intN may be nil, in which case math/rand/v2 is used.
func NewNameGenerator(botName string, intN func(n int) int) (*NameGenerator, error) {
	botName = strings.TrimPrefix(strings.TrimSpace(botName), "@")
	if botName == "" {
		return nil, fmt.Errorf("%w: bot name required", ErrInvalidCollectionName)
	}
	if intN == nil {
		intN = rand.IntN
	}
	return &NameGenerator{botName: botName, intN: intN}, nil
}

// Generate returns a fresh name for a collection of the given scope.
// An invalid result is returned as an error and never corrected.
func (g *NameGenerator) Generate(scope Scope) (string, error) {
	prefix := scope.NamePrefix()
	var builder strings.Builder
	builder.WriteString(prefix)
	for builder.Len() < namePrefixLength {
		builder.WriteByte(nameAlphabet[g.intN(len(nameAlphabet))])
	}
	builder.WriteString("_by_")
	builder.WriteString(g.botName)

	name := builder.String()
	if err := ValidateCollectionName(name, g.botName); err != nil {
		return "", err
	}
	return name, nil
}

// ValidateCollectionName checks the platform naming rules for a collection owned by botName.
func ValidateCollectionName(name, botName string) error {
	if name == "" || len(name) > MaxCollectionNameLength {
		return fmt.Errorf("%w: %q must be 1-%d characters", ErrInvalidCollectionName, name, MaxCollectionNameLength)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must start with a letter and contain only letters, digits and underscores", ErrInvalidCollectionName, name)
	}
	if strings.Contains(name, "__") {
		return fmt.Errorf("%w: %q contains consecutive underscores", ErrInvalidCollectionName, name)
	}
	if !strings.HasSuffix(strings.ToLower(name), "_by_"+strings.ToLower(botName)) {
		return fmt.Errorf("%w: %q must end with _by_%s", ErrInvalidCollectionName, name, botName)
	}
	return nil
}

// CollectionTitle builds the human readable title of a collection, truncated to the platform limit.
func CollectionTitle(scope Scope, chatTitle, userName string) string {
	var title string
	if scope.Kind == ScopeUser {
		title = fmt.Sprintf("@%s achievements in %s", strings.TrimPrefix(userName, "@"), chatTitle)
	} else {
		title = fmt.Sprintf("%s achievements", chatTitle)
	}
	return truncateRunes(strings.TrimSpace(title), MaxCollectionTitleLength)
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
