// Package server exposes the bot over HTTP: the Telegram webhook, health and metrics, and the operator API.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/achievements"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/auth"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/ledger"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/telegram"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	operatorContextKey = "achievements_operator"
	secretTokenHeader  = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBody     = 1 << 20
)

var (
	errMissingUpdateQueue   = errors.New("update queue dependency required")
	errMissingChatAdmin     = errors.New("chat admin dependency required")
	errMissingTokenVerifier = errors.New("token validator dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// UpdateQueue accepts webhook updates for asynchronous handling.
type UpdateQueue interface {
	Enqueue(ctx context.Context, update telegram.Update) error
}

// ChatAdmin inspects and resets the collections of a chat.
type ChatAdmin interface {
	Collections(ctx context.Context, chatID int64) ([]ledger.CollectionSummary, error)
	Reset(ctx context.Context, chatID int64) (achievements.ResetReport, error)
}

// OwnerReleaser forgets the stickerset owner of a chat.
type OwnerReleaser interface {
	ReleaseOwner(ctx context.Context, chatID int64) error
}

// OperatorTokenValidator validates operator bearer tokens.
type OperatorTokenValidator interface {
	ValidateToken(token string) (auth.OperatorClaims, error)
}

type Dependencies struct {
	Updates        UpdateQueue
	Chats          ChatAdmin
	Owners         OwnerReleaser
	Tokens         OperatorTokenValidator
	WebhookSecret  string
	AllowedOrigins []string
	Health         healthcheck.Handler
	Metrics        http.Handler
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Updates == nil {
		return nil, errMissingUpdateQueue
	}
	if deps.Chats == nil {
		return nil, errMissingChatAdmin
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenVerifier
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	health := deps.Health
	if health == nil {
		health = healthcheck.NewHandler()
	}
	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		updates:       deps.Updates,
		chats:         deps.Chats,
		owners:        deps.Owners,
		tokens:        deps.Tokens,
		webhookSecret: deps.WebhookSecret,
		logger:        logger,
	}

	router.POST("/telegram/webhook", handler.handleWebhook)
	router.GET("/healthz", gin.WrapF(health.ReadyEndpoint))
	router.GET("/livez", gin.WrapF(health.LiveEndpoint))
	router.GET("/metrics", gin.WrapH(metricsHandler))

	admin := router.Group("/admin")
	admin.Use(handler.authorizeRequest)
	admin.GET("/chats/:chat_id/collections", handler.handleCollections)
	admin.POST("/chats/:chat_id/reset", handler.handleReset)

	return router, nil
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	updates       UpdateQueue
	chats         ChatAdmin
	owners        OwnerReleaser
	tokens        OperatorTokenValidator
	webhookSecret string
	logger        *zap.Logger
}

// handleWebhook always answers 200 once the secret matched so Telegram does not redeliver
// updates that failed inside the bot.
func (h *httpHandler) handleWebhook(c *gin.Context) {
	if h.webhookSecret != "" && c.GetHeader(secretTokenHeader) != h.webhookSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("failed to read webhook body", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}
	var update telegram.Update
	if err := json.Unmarshal(body, &update); err != nil {
		h.logger.Warn("failed to decode webhook update", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}
	if err := h.updates.Enqueue(c.Request.Context(), update); err != nil {
		h.logger.Error("failed to enqueue update", zap.Int64("update_id", update.UpdateID), zap.Error(err))
	}
	c.Status(http.StatusOK)
}

type collectionsResponsePayload struct {
	ChatID      int64                      `json:"chat_id"`
	Collections []ledger.CollectionSummary `json:"collections"`
}

func (h *httpHandler) handleCollections(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	summaries, err := h.chats.Collections(c.Request.Context(), chatID)
	if err != nil {
		h.logger.Error("failed to list collections", zap.Int64("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorCode(err, "collections_failed")})
		return
	}
	if summaries == nil {
		summaries = []ledger.CollectionSummary{}
	}
	c.JSON(http.StatusOK, collectionsResponsePayload{ChatID: chatID, Collections: summaries})
}

func (h *httpHandler) handleReset(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	report, err := h.chats.Reset(c.Request.Context(), chatID)
	switch {
	case errors.Is(err, achievements.ErrChatBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "chat_busy"})
		return
	case err != nil:
		h.logger.Error("failed to reset chat", zap.Int64("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": errorCode(err, "reset_failed"), "report": report})
		return
	}
	if h.owners != nil {
		if err := h.owners.ReleaseOwner(c.Request.Context(), chatID); err != nil {
			h.logger.Error("failed to release owner", zap.Int64("chat_id", chatID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": errorCode(err, "release_owner_failed"), "report": report})
			return
		}
	}
	h.logger.Info("chat reset by operator",
		zap.Int64("chat_id", chatID),
		zap.String("operator", c.GetString(operatorContextKey)))
	c.JSON(http.StatusOK, report)
}

func chatIDParam(c *gin.Context) (int64, bool) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil || chatID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_chat_id"})
		return 0, false
	}
	return chatID, true
}

type codedError interface {
	Code() string
}

// errorCode returns the stable code carried by service errors.
func errorCode(err error, fallback string) string {
	var coded codedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return fallback
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(operatorContextKey, claims.Subject)
	c.Next()
}
