// Package bot turns Telegram updates into achievement operations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/access"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/achievements"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/filter"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/members"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/telegram"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const maxMessageLength = 4096

var errMissingDependency = errors.New("bot: dependency is required")

// Messenger sends replies to Telegram.
type Messenger interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (telegram.Message, error)
	SendSticker(ctx context.Context, chatID int64, fileID string, replyTo int64) (telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	EditMessageText(ctx context.Context, params telegram.EditMessageTextParams) error
}

// Achievements performs grants and resets.
type Achievements interface {
	GrantNewAchievement(ctx context.Context, req achievements.GrantRequest) (achievements.Confirmation, error)
	RegrantExistingAchievement(ctx context.Context, req achievements.RegrantRequest) (achievements.Confirmation, error)
	Reset(ctx context.Context, chatID int64) (achievements.ResetReport, error)
	ResolveSticker(ctx context.Context, chatID int64, uniqueID string) (stickers.MirrorRow, bool, error)
	CollectionName(ctx context.Context, scope stickers.Scope) (string, bool, error)
}

// Access answers role, ban and rate limit questions.
type Access interface {
	IsAdmin(userID int64) bool
	Admins() []int64
	Owner(ctx context.Context, chatID int64) (int64, bool, error)
	RequestOwnership(ctx context.Context, userID, chatID int64, chatTitle string) error
	PendingRequests(ctx context.Context, userID int64) ([]access.OwnerCandidate, error)
	AssignOwner(ctx context.Context, userID, chatID int64) error
	ReleaseOwner(ctx context.Context, chatID int64) error
	Ban(ctx context.Context, userID int64, username string) error
	Unban(ctx context.Context, userID int64) (bool, error)
	IsBanned(ctx context.Context, userID int64) (bool, error)
	Warn(ctx context.Context, req access.WarnRequest) (access.Verdict, error)
}

// Members records seen users and resolves usernames.
type Members interface {
	Observe(ctx context.Context, user telegram.User) error
	ResolveUsername(ctx context.Context, username string) (int64, error)
}

// Recorder receives update and warning counts.
type Recorder interface {
	RecordUpdate(kind string)
	RecordWarning(interaction string, banned bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordUpdate(string) {}

func (noopRecorder) RecordWarning(string, bool) {}

// Config describes the collaborators of a Bot.
type Config struct {
	Messenger    Messenger
	Achievements Achievements
	Access       Access
	Members      Members
	Filter       *filter.Filter
	Recorder     Recorder
	Logger       *zap.Logger
}

type handlerFunc func(ctx context.Context, msg *telegram.Message) error

type guard func(next handlerFunc) handlerFunc

// Bot routes updates to command and reply handlers.
type Bot struct {
	messenger    Messenger
	achievements Achievements
	access       Access
	members      Members
	filter       *filter.Filter
	recorder     Recorder
	logger       *zap.Logger

	commands     map[string]handlerFunc
	give         handlerFunc
	stickerReply handlerFunc
}

func New(cfg Config) (*Bot, error) {
	switch {
	case cfg.Messenger == nil:
		return nil, fmt.Errorf("%w: messenger", errMissingDependency)
	case cfg.Achievements == nil:
		return nil, fmt.Errorf("%w: achievements", errMissingDependency)
	case cfg.Access == nil:
		return nil, fmt.Errorf("%w: access", errMissingDependency)
	case cfg.Members == nil:
		return nil, fmt.Errorf("%w: members", errMissingDependency)
	case cfg.Filter == nil:
		return nil, fmt.Errorf("%w: filter", errMissingDependency)
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bot{
		messenger:    cfg.Messenger,
		achievements: cfg.Achievements,
		access:       cfg.Access,
		members:      cfg.Members,
		filter:       cfg.Filter,
		recorder:     recorder,
		logger:       logger,
	}
	b.commands = map[string]handlerFunc{
		"start":        chain(b.handleStart, b.notBanned),
		"help":         chain(b.handleHelp, b.supergroupOnly, b.notBanned),
		"own_stickers": chain(b.handleOwnStickers, b.supergroupOnly, b.notBanned, b.undefinedOwner),
		"show":         chain(b.handleShow, b.supergroupOnly, b.definedOwner, b.notBanned),
		"reset":        chain(b.handleReset, b.supergroupOnly, b.ownerOnly),
		"ban":          chain(b.handleBan, b.supergroupOnly, b.adminOnly),
		"unban":        chain(b.handleUnban, b.supergroupOnly, b.adminOnly),
	}
	b.give = chain(b.handleGive, b.supergroupOnly, b.definedOwner, b.notBanned)
	b.stickerReply = chain(b.handleStickerReply, b.supergroupOnly, b.definedOwner, b.notBanned)
	return b, nil
}

// chain wraps h so that guards run in the order given.
func chain(h handlerFunc, guards ...guard) handlerFunc {
	for i := len(guards) - 1; i >= 0; i-- {
		h = guards[i](h)
	}
	return h
}

// Handle processes one update. Updates nobody handles are ignored.
func (b *Bot) Handle(ctx context.Context, update telegram.Update) error {
	b.observe(ctx, update)
	switch {
	case update.CallbackQuery != nil:
		b.recorder.RecordUpdate("callback")
		return b.handleCallback(ctx, update.CallbackQuery)
	case update.Message == nil || update.Message.From == nil:
		b.recorder.RecordUpdate("ignored")
		return nil
	}

	msg := update.Message
	if command := msg.Command(); command != "" {
		handler, ok := b.commands[command]
		if !ok {
			b.recorder.RecordUpdate("ignored")
			return nil
		}
		b.recorder.RecordUpdate("command")
		return handler(ctx, msg)
	}
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		b.recorder.RecordUpdate("ignored")
		return nil
	}
	switch {
	case msg.Sticker != nil:
		b.recorder.RecordUpdate("sticker_reply")
		return b.stickerReply(ctx, msg)
	case msg.Text != "" && b.filter.HasKeyPhrase(msg.Text):
		b.recorder.RecordUpdate("give")
		return b.give(ctx, msg)
	}
	b.recorder.RecordUpdate("ignored")
	return nil
}

func (b *Bot) observe(ctx context.Context, update telegram.Update) {
	var users []telegram.User
	if update.Message != nil {
		if update.Message.From != nil {
			users = append(users, *update.Message.From)
		}
		if reply := update.Message.ReplyToMessage; reply != nil && reply.From != nil {
			users = append(users, *reply.From)
		}
	}
	if update.CallbackQuery != nil {
		users = append(users, update.CallbackQuery.From)
	}
	for _, user := range users {
		if user.IsBot {
			continue
		}
		if err := b.members.Observe(ctx, user); err != nil {
			b.logger.Warn("failed to record member", zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}
}

// Guards. A rejected update is dropped without an answer.

func (b *Bot) supergroupOnly(next handlerFunc) handlerFunc {
	return func(ctx context.Context, msg *telegram.Message) error {
		if msg.Chat.Type != telegram.ChatTypeSupergroup {
			return nil
		}
		return next(ctx, msg)
	}
}

func (b *Bot) adminOnly(next handlerFunc) handlerFunc {
	return func(ctx context.Context, msg *telegram.Message) error {
		if !b.access.IsAdmin(msg.From.ID) {
			return nil
		}
		return next(ctx, msg)
	}
}

func (b *Bot) notBanned(next handlerFunc) handlerFunc {
	return func(ctx context.Context, msg *telegram.Message) error {
		isBanned, err := b.access.IsBanned(ctx, msg.From.ID)
		if err != nil {
			return err
		}
		if isBanned {
			return nil
		}
		return next(ctx, msg)
	}
}

func (b *Bot) ownerOnly(next handlerFunc) handlerFunc {
	return func(ctx context.Context, msg *telegram.Message) error {
		owner, defined, err := b.access.Owner(ctx, msg.Chat.ID)
		if err != nil {
			return err
		}
		if !defined || owner != msg.From.ID {
			return nil
		}
		return next(ctx, msg)
	}
}

func (b *Bot) definedOwner(next handlerFunc) handlerFunc {
	return func(ctx context.Context, msg *telegram.Message) error {
		_, defined, err := b.access.Owner(ctx, msg.Chat.ID)
		if err != nil {
			return err
		}
		if !defined {
			return nil
		}
		return next(ctx, msg)
	}
}

func (b *Bot) undefinedOwner(next handlerFunc) handlerFunc {
	return func(ctx context.Context, msg *telegram.Message) error {
		_, defined, err := b.access.Owner(ctx, msg.Chat.ID)
		if err != nil {
			return err
		}
		if defined {
			return nil
		}
		return next(ctx, msg)
	}
}

// Commands.

func (b *Bot) handleStart(ctx context.Context, msg *telegram.Message) error {
	if msg.Chat.Type == telegram.ChatTypePrivate {
		requests, err := b.access.PendingRequests(ctx, msg.From.ID)
		if err != nil {
			return err
		}
		buttons := make([]telegram.InlineKeyboardButton, 0, len(requests))
		for _, request := range requests {
			buttons = append(buttons, telegram.InlineKeyboardButton{
				Text:         request.ChatTitle,
				CallbackData: assignChatPrefix + strconv.FormatInt(request.ChatID, 10),
			})
		}
		return b.reply(ctx, msg, greetingPrivate, "", &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{buttons}})
	}

	if err := b.reply(ctx, msg, greetingGroup, "", nil); err != nil {
		return err
	}
	return b.sendDocumentation(ctx, msg)
}

func (b *Bot) handleHelp(ctx context.Context, msg *telegram.Message) error {
	return b.sendDocumentation(ctx, msg)
}

func (b *Bot) sendDocumentation(ctx context.Context, msg *telegram.Message) error {
	if err := b.reply(ctx, msg, documentationText(0), telegram.ParseModeMarkdownV2, documentationKeyboard()); err != nil {
		return err
	}
	_, defined, err := b.access.Owner(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	if defined {
		return nil
	}
	return b.send(ctx, msg.Chat.ID, ownerReminder, telegram.ParseModeMarkdownV2, nil)
}

func documentationKeyboard() *telegram.InlineKeyboardMarkup {
	buttons := make([]telegram.InlineKeyboardButton, 0, len(documentation))
	for index, page := range documentation {
		buttons = append(buttons, telegram.InlineKeyboardButton{
			Text:         page.title,
			CallbackData: documentationPrefix + strconv.Itoa(index),
		})
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{buttons}}
}

func (b *Bot) handleOwnStickers(ctx context.Context, msg *telegram.Message) error {
	if err := b.access.RequestOwnership(ctx, msg.From.ID, msg.Chat.ID, msg.Chat.Title); err != nil {
		return err
	}
	return b.reply(ctx, msg, ownershipRequested(msg.From.DisplayName()), "", nil)
}

func (b *Bot) handleShow(ctx context.Context, msg *telegram.Message) error {
	if handled, err := b.warn(ctx, msg, access.ShowPolicy); handled || err != nil {
		return err
	}
	chatCollection, _, err := b.achievements.CollectionName(ctx, stickers.ChatScope(msg.Chat.ID))
	if err != nil {
		return err
	}
	userCollection, _, err := b.achievements.CollectionName(ctx, stickers.UserScope(msg.Chat.ID, msg.From.ID))
	if err != nil {
		return err
	}
	return b.reply(ctx, msg, showCollections(msg.From.DisplayName(), msg.Chat.Title, chatCollection, userCollection), "", nil)
}

func (b *Bot) handleReset(ctx context.Context, msg *telegram.Message) error {
	report, err := b.achievements.Reset(ctx, msg.Chat.ID)
	if err != nil {
		if errors.Is(err, achievements.ErrChatBusy) {
			return b.reply(ctx, msg, chatBusy, "", nil)
		}
		return err
	}
	if err := b.access.ReleaseOwner(ctx, msg.Chat.ID); err != nil {
		return err
	}
	b.logger.Info("chat reset by owner",
		zap.Int64("chat_id", msg.Chat.ID),
		zap.Int64("user_id", msg.From.ID),
		zap.Int("collections", len(report.Collections)+len(report.MissingCollections)))
	return b.reply(ctx, msg, resetDone(msg.From.DisplayName()), "", nil)
}

func (b *Bot) handleBan(ctx context.Context, msg *telegram.Message) error {
	username, ok := mentionedUsername(msg.CommandArguments())
	if !ok {
		return b.reply(ctx, msg, banUsage, "", nil)
	}
	userID, err := b.members.ResolveUsername(ctx, username)
	if errors.Is(err, members.ErrUnknownUsername) {
		return b.reply(ctx, msg, unknownMember(username), "", nil)
	}
	if err != nil {
		return err
	}
	if err := b.access.Ban(ctx, userID, username); err != nil {
		return err
	}
	return b.reply(ctx, msg, banned(username), "", nil)
}

func (b *Bot) handleUnban(ctx context.Context, msg *telegram.Message) error {
	username, ok := mentionedUsername(msg.CommandArguments())
	if !ok {
		return b.reply(ctx, msg, unbanUsage, "", nil)
	}
	userID, err := b.members.ResolveUsername(ctx, username)
	if errors.Is(err, members.ErrUnknownUsername) {
		return b.reply(ctx, msg, unknownMember(username), "", nil)
	}
	if err != nil {
		return err
	}
	lifted, err := b.access.Unban(ctx, userID)
	if err != nil {
		return err
	}
	if !lifted {
		return b.reply(ctx, msg, notBannedBefore(username), "", nil)
	}
	return b.reply(ctx, msg, unbanned(username), "", nil)
}

// mentionedUsername extracts "name" from arguments like "@name".
func mentionedUsername(arguments string) (string, bool) {
	at := strings.Index(arguments, "@")
	if at < 0 {
		return "", false
	}
	fields := strings.Fields(arguments[at+1:])
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// Replies.

func (b *Bot) handleGive(ctx context.Context, msg *telegram.Message) error {
	from, to := *msg.From, *msg.ReplyToMessage.From
	b.logger.Info("achievement requested",
		zap.Int64("chat_id", msg.Chat.ID),
		zap.Int64("from_user_id", from.ID),
		zap.Int64("to_user_id", to.ID))

	prompt, err := b.filter.DetectPrompt(msg.Text)
	if err != nil {
		return b.reply(ctx, msg, promptNotIdentified(from.DisplayName(), to.DisplayName()), "", nil)
	}
	if b.filter.HasBannedWords(prompt) {
		_, err := b.warn(ctx, msg, access.LanguagePolicy)
		return err
	}
	if filter.CheckFormat(prompt) != nil {
		_, err := b.warn(ctx, msg, access.FormatPolicy)
		return err
	}
	if handled, err := b.warn(ctx, msg, access.GivePolicy); handled || err != nil {
		return err
	}

	owner, _, err := b.access.Owner(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	confirmation, err := b.achievements.GrantNewAchievement(ctx, achievements.GrantRequest{
		ChatID:    msg.Chat.ID,
		ChatTitle: msg.Chat.Title,
		OwnerID:   owner,
		From:      participant(from),
		To:        participant(to),
		Message:   msg.Text,
		Prompt:    prompt,
	})
	if err != nil {
		return b.grantFailure(ctx, msg, err)
	}
	return b.confirm(ctx, msg, from, to, confirmation)
}

func (b *Bot) handleStickerReply(ctx context.Context, msg *telegram.Message) error {
	row, found, err := b.achievements.ResolveSticker(ctx, msg.Chat.ID, msg.Sticker.FileUniqueID)
	if err != nil || !found {
		return err
	}
	switch row.Kind {
	case stickers.KindEmpty:
		return b.reply(ctx, msg, notUnblockedYet, "", nil)
	case stickers.KindAchievement:
	default:
		return nil
	}
	if handled, err := b.warn(ctx, msg, access.GivePolicy); handled || err != nil {
		return err
	}

	from, to := *msg.From, *msg.ReplyToMessage.From
	owner, _, err := b.access.Owner(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	confirmation, err := b.achievements.RegrantExistingAchievement(ctx, achievements.RegrantRequest{
		ChatID:          msg.Chat.ID,
		ChatTitle:       msg.Chat.Title,
		OwnerID:         owner,
		From:            participant(from),
		To:              participant(to),
		AchievementSlot: row.SlotIndex,
	})
	if err != nil {
		return b.grantFailure(ctx, msg, err)
	}
	return b.confirm(ctx, msg, from, to, confirmation)
}

func participant(user telegram.User) achievements.Participant {
	return achievements.Participant{UserID: user.ID, Username: user.DisplayName()}
}

func (b *Bot) confirm(ctx context.Context, msg *telegram.Message, from, to telegram.User, confirmation achievements.Confirmation) error {
	text := congratulations(to.DisplayName(), from.DisplayName(), msg.Chat.Title, confirmation.Engraving)
	if err := b.reply(ctx, msg, text, "", nil); err != nil {
		return err
	}
	if _, err := b.messenger.SendSticker(ctx, msg.Chat.ID, confirmation.UserItemID, 0); err != nil {
		return err
	}
	_, err := b.messenger.SendSticker(ctx, msg.Chat.ID, confirmation.ChatItemID, 0)
	return err
}

// grantFailure answers a failed grant. A busy chat is not an error worth reporting.
func (b *Bot) grantFailure(ctx context.Context, msg *telegram.Message, err error) error {
	if errors.Is(err, achievements.ErrChatBusy) {
		return b.reply(ctx, msg, chatBusy, "", nil)
	}
	if replyErr := b.reply(ctx, msg, grantFailed, "", nil); replyErr != nil {
		b.logger.Warn("failed to send failure notice", zap.Int64("chat_id", msg.Chat.ID), zap.Error(replyErr))
	}
	return err
}

// warn counts the interaction and answers with a warning or ban notice when a limit was exceeded.
func (b *Bot) warn(ctx context.Context, msg *telegram.Message, policy access.Policy) (bool, error) {
	username := msg.From.DisplayName()
	verdict, err := b.access.Warn(ctx, access.WarnRequest{
		UserID:   msg.From.ID,
		Username: username,
		ChatID:   msg.Chat.ID,
		Policy:   policy,
	})
	if err != nil {
		return false, err
	}
	if !verdict.Warned() {
		return false, nil
	}
	b.recorder.RecordWarning(policy.Interaction, verdict.Banned)
	if verdict.Banned {
		return true, b.reply(ctx, msg, banNotice(username, policy.BanAfter), "", nil)
	}
	return true, b.reply(ctx, msg, warningText(policy, username), "", nil)
}

// Callbacks.

func (b *Bot) handleCallback(ctx context.Context, query *telegram.CallbackQuery) error {
	if err := b.messenger.AnswerCallbackQuery(ctx, query.ID, ""); err != nil {
		return err
	}
	switch {
	case strings.HasPrefix(query.Data, documentationPrefix):
		if query.Message == nil {
			return nil
		}
		page, err := strconv.Atoi(strings.TrimPrefix(query.Data, documentationPrefix))
		if err != nil {
			return nil
		}
		return b.messenger.EditMessageText(ctx, telegram.EditMessageTextParams{
			ChatID:      query.Message.Chat.ID,
			MessageID:   query.Message.MessageID,
			Text:        documentationText(page),
			ParseMode:   telegram.ParseModeMarkdownV2,
			ReplyMarkup: documentationKeyboard(),
		})
	case strings.HasPrefix(query.Data, assignChatPrefix):
		chatID, err := strconv.ParseInt(strings.TrimPrefix(query.Data, assignChatPrefix), 10, 64)
		if err != nil {
			return nil
		}
		return b.assignOwner(ctx, query.From, chatID)
	}
	return nil
}

func (b *Bot) assignOwner(ctx context.Context, user telegram.User, chatID int64) error {
	err := b.access.AssignOwner(ctx, user.ID, chatID)
	if errors.Is(err, access.ErrOwnerAlreadyDefined) || errors.Is(err, access.ErrNoOwnershipRequest) {
		return b.send(ctx, user.ID, ownerAlreadyChosen, "", nil)
	}
	if err != nil {
		return err
	}
	if err := b.send(ctx, user.ID, ownerAssignedPrivate, "", nil); err != nil {
		return err
	}
	return b.send(ctx, chatID, ownerAssignedGroup(user.DisplayName()), "", nil)
}

// ReportError logs a failed update and forwards the details to every admin.
func (b *Bot) ReportError(ctx context.Context, update telegram.Update, err error) {
	b.logger.Error("failed to handle update", zap.Int64("update_id", update.UpdateID), zap.Error(err))

	payload, marshalErr := json.MarshalIndent(update, "", "  ")
	if marshalErr != nil {
		payload = []byte(strconv.FormatInt(update.UpdateID, 10))
	}
	text := fmt.Sprintf("An exception was raised while handling an update\n<pre>update = %s</pre>\n\n<pre>%s</pre>",
		html.EscapeString(string(payload)), html.EscapeString(err.Error()))
	if utf8.RuneCountInString(text) > maxMessageLength {
		text = fmt.Sprintf("An exception was raised while handling update %d\n\n<pre>%s</pre>",
			update.UpdateID, html.EscapeString(truncate(err.Error(), maxMessageLength-200)))
	}
	for _, admin := range b.access.Admins() {
		if sendErr := b.send(ctx, admin, text, telegram.ParseModeHTML, nil); sendErr != nil {
			b.logger.Warn("failed to report error to admin", zap.Int64("admin_id", admin), zap.Error(sendErr))
		}
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func (b *Bot) reply(ctx context.Context, msg *telegram.Message, text, parseMode string, markup *telegram.InlineKeyboardMarkup) error {
	_, err := b.messenger.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:           msg.Chat.ID,
		Text:             text,
		ParseMode:        parseMode,
		ReplyToMessageID: msg.MessageID,
		ReplyMarkup:      markup,
	})
	return err
}

func (b *Bot) send(ctx context.Context, chatID int64, text, parseMode string, markup *telegram.InlineKeyboardMarkup) error {
	_, err := b.messenger.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: markup,
	})
	return err
}
