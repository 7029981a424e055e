// Package resources embeds the default word lists shipped with the bot.
package resources

import _ "embed"

//go:embed key.txt
var KeyPhrases []byte

//go:embed ban.txt
var BannedWords []byte
