package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

const stickerFormatStatic = "static"

// GetMe returns the bot account.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var user User
	err := c.call(ctx, "getMe", nil, &user)
	return user, err
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

// SetWebhook registers url as the update endpoint, protected by secretToken.
func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) error {
	return c.call(ctx, "setWebhook", map[string]any{
		"url":             url,
		"secret_token":    secretToken,
		"allowed_updates": []string{"message", "callback_query"},
	}, nil)
}

// DeleteWebhook switches the bot back to long polling.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": false}, nil)
}

// SendMessageParams are the arguments of sendMessage.
type SendMessageParams struct {
	ChatID           int64                 `json:"chat_id"`
	Text             string                `json:"text"`
	ParseMode        string                `json:"parse_mode,omitempty"`
	ReplyToMessageID int64                 `json:"reply_to_message_id,omitempty"`
	ReplyMarkup      *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage posts a text message.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (Message, error) {
	var message Message
	err := c.call(ctx, "sendMessage", params, &message)
	return message, err
}

// SendSticker posts an existing sticker by file id.
func (c *Client) SendSticker(ctx context.Context, chatID int64, fileID string, replyTo int64) (Message, error) {
	params := map[string]any{"chat_id": chatID, "sticker": fileID}
	if replyTo != 0 {
		params["reply_to_message_id"] = replyTo
	}
	var message Message
	err := c.call(ctx, "sendSticker", params, &message)
	return message, err
}

// AnswerCallbackQuery acknowledges an inline button press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// EditMessageTextParams are the arguments of editMessageText.
type EditMessageTextParams struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageText replaces the text of a message sent by the bot.
func (c *Client) EditMessageText(ctx context.Context, params EditMessageTextParams) error {
	return c.call(ctx, "editMessageText", params, nil)
}

// CreateNewStickerSet creates a sticker set owned by userID from static PNG stickers.
func (c *Client) CreateNewStickerSet(ctx context.Context, userID int64, name, title string, stickers [][]byte, emoji string) error {
	inputs := make([]InputSticker, 0, len(stickers))
	files := make([]attachment, 0, len(stickers))
	for index, data := range stickers {
		field := fmt.Sprintf("sticker%d", index)
		inputs = append(inputs, InputSticker{Sticker: "attach://" + field, Format: stickerFormatStatic, EmojiList: []string{emoji}})
		files = append(files, attachment{field: field, name: field + ".png", data: data})
	}
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("telegram: encode stickers: %w", err)
	}
	return c.callMultipart(ctx, "createNewStickerSet", map[string]string{
		"user_id":  strconv.FormatInt(userID, 10),
		"name":     name,
		"title":    title,
		"stickers": string(encoded),
	}, files, nil)
}

// AddStickerToSet appends a static PNG sticker to the end of a set.
func (c *Client) AddStickerToSet(ctx context.Context, userID int64, name string, sticker []byte, emoji string) error {
	encoded, err := json.Marshal(InputSticker{Sticker: "attach://sticker0", Format: stickerFormatStatic, EmojiList: []string{emoji}})
	if err != nil {
		return fmt.Errorf("telegram: encode sticker: %w", err)
	}
	return c.callMultipart(ctx, "addStickerToSet", map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
		"name":    name,
		"sticker": string(encoded),
	}, []attachment{{field: "sticker0", name: "sticker0.png", data: sticker}}, nil)
}

// DeleteStickerFromSet removes a sticker; following stickers shift down by one.
func (c *Client) DeleteStickerFromSet(ctx context.Context, fileID string) error {
	return c.call(ctx, "deleteStickerFromSet", map[string]any{"sticker": fileID}, nil)
}

// SetStickerPositionInSet moves a sticker to a zero-based position.
func (c *Client) SetStickerPositionInSet(ctx context.Context, fileID string, position int) error {
	return c.call(ctx, "setStickerPositionInSet", map[string]any{"sticker": fileID, "position": position}, nil)
}

// GetStickerSet returns a sticker set with its stickers in order.
func (c *Client) GetStickerSet(ctx context.Context, name string) (StickerSet, error) {
	var set StickerSet
	err := c.call(ctx, "getStickerSet", map[string]any{"name": name}, &set)
	return set, err
}

// DeleteStickerSet deletes a sticker set created by the bot.
func (c *Client) DeleteStickerSet(ctx context.Context, name string) error {
	return c.call(ctx, "deleteStickerSet", map[string]any{"name": name}, nil)
}

// GetUserProfilePhotos lists up to limit profile photos of a user.
func (c *Client) GetUserProfilePhotos(ctx context.Context, userID int64, limit int) (UserProfilePhotos, error) {
	var photos UserProfilePhotos
	err := c.call(ctx, "getUserProfilePhotos", map[string]any{"user_id": userID, "limit": limit}, &photos)
	return photos, err
}

// GetFile resolves a file id into a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	var file File
	err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &file)
	return file, err
}
