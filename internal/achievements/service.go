// Package achievements implements granting, re-granting and resetting achievements of a chat.
package achievements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/artist"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/blob"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/filter"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/imagegen"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/ledger"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
	"go.uber.org/zap"
)

const (
	PathNew      = "new"
	PathExisting = "existing"
	PathSticker  = "sticker"
)

var (
	// ErrChatBusy is returned when another grant of the same chat holds the chat lock.
	ErrChatBusy = errors.New("achievements: chat is busy")
	// ErrNotAchievement is returned when a re-grant points at a slot without an achievement.
	ErrNotAchievement = errors.New("achievements: slot holds no achievement")

	errInvalidRequest = errors.New("invalid request")
	errMissingDep     = errors.New("dependency is required")
)

// ServiceError carries a stable `operation.reason` code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opNew     = "achievements.new"
	opGrant   = "achievements.grant"
	opRegrant = "achievements.regrant"
	opRecount = "achievements.recount"
	opReset   = "achievements.reset"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// Artist renders the stickers of a grant.
type Artist interface {
	Placeholder(ctx context.Context) (stickers.Image, error)
	Achievement(ctx context.Context, picture []byte) (stickers.Image, error)
	Description(ctx context.Context, text string) (stickers.Image, error)
	ChatDescription(ctx context.Context, text string, count int) (stickers.Image, error)
	Profile(ctx context.Context, photo []byte, username string) (stickers.Image, error)
	ProfileDescription(ctx context.Context, username, chatTitle string) (stickers.Image, error)
}

// ProfileSource fetches the profile picture of a user; nil means the user has none.
type ProfileSource interface {
	FetchProfileImage(ctx context.Context, userID int64) ([]byte, error)
}

// CollectionRemover deletes whole remote collections.
type CollectionRemover interface {
	DeleteCollection(ctx context.Context, name string) error
}

// Recorder receives grant and placement outcomes.
type Recorder interface {
	RecordGrant(path string, err error, duration time.Duration)
	RecordPlacement(scope, mode string)
}

type noopRecorder struct{}

func (noopRecorder) RecordGrant(string, error, time.Duration) {}

func (noopRecorder) RecordPlacement(string, string) {}

// Config describes the dependencies of the Service.
type Config struct {
	Ledger       *ledger.Ledger
	Synchronizer *stickers.Synchronizer
	Artist       Artist
	Generator    imagegen.Generator
	Profiles     ProfileSource
	Blobs        blob.Store
	Remover      CollectionRemover
	Recorder     Recorder
	// Locks serializes work per chat; defaults to a mutex that retries for about a minute.
	Locks           *mapmutex.Mutex
	PlaceholderPath string
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Service is the entry point of every achievement operation.
type Service struct {
	ledger          *ledger.Ledger
	sync            *stickers.Synchronizer
	artist          Artist
	generator       imagegen.Generator
	profiles        ProfileSource
	blobs           blob.Store
	remover         CollectionRemover
	recorder        Recorder
	locks           *mapmutex.Mutex
	placeholderPath string
	clock           func() time.Time
	logger          *zap.Logger
}

func NewService(cfg Config) (*Service, error) {
	required := []struct {
		name    string
		present bool
	}{
		{"ledger", cfg.Ledger != nil},
		{"synchronizer", cfg.Synchronizer != nil},
		{"artist", cfg.Artist != nil},
		{"generator", cfg.Generator != nil},
		{"profiles", cfg.Profiles != nil},
		{"blobs", cfg.Blobs != nil},
		{"remover", cfg.Remover != nil},
	}
	for _, dep := range required {
		if !dep.present {
			return nil, newServiceError(opNew, "missing_"+dep.name, errMissingDep)
		}
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	locks := cfg.Locks
	if locks == nil {
		locks = mapmutex.NewCustomizedMapMutex(800, 100000000, 10, 1.1, 0.2)
	}
	placeholderPath := cfg.PlaceholderPath
	if placeholderPath == "" {
		placeholderPath = artist.DefaultPlaceholderPath
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ledger:          cfg.Ledger,
		sync:            cfg.Synchronizer,
		artist:          cfg.Artist,
		generator:       cfg.Generator,
		profiles:        cfg.Profiles,
		blobs:           cfg.Blobs,
		remover:         cfg.Remover,
		recorder:        recorder,
		locks:           locks,
		placeholderPath: placeholderPath,
		clock:           clock,
		logger:          logger,
	}, nil
}

// Participant is a chat member taking part in a grant.
type Participant struct {
	UserID   int64
	Username string
}

// GrantRequest asks for an achievement described by Prompt.
type GrantRequest struct {
	ChatID    int64
	ChatTitle string
	// OwnerID owns collections created by this grant.
	OwnerID int64
	From    Participant
	To      Participant
	Message string
	Prompt  string
}

func (r GrantRequest) validate() error {
	switch {
	case r.ChatID == 0:
		return fmt.Errorf("%w: chat id required", errInvalidRequest)
	case r.OwnerID == 0:
		return fmt.Errorf("%w: owner id required", errInvalidRequest)
	case r.To.UserID == 0:
		return fmt.Errorf("%w: recipient required", errInvalidRequest)
	case filter.NormalizePrompt(r.Prompt) == "":
		return fmt.Errorf("%w: prompt required", errInvalidRequest)
	}
	return nil
}

// RegrantRequest hands out the achievement at AchievementSlot of the chat collection again.
type RegrantRequest struct {
	ChatID          int64
	ChatTitle       string
	OwnerID         int64
	From            Participant
	To              Participant
	AchievementSlot int
}

func (r RegrantRequest) validate() error {
	switch {
	case r.ChatID == 0:
		return fmt.Errorf("%w: chat id required", errInvalidRequest)
	case r.To.UserID == 0:
		return fmt.Errorf("%w: recipient required", errInvalidRequest)
	case !stickers.IsPrimarySlot(r.AchievementSlot):
		return fmt.Errorf("%w: slot %d is not a primary slot", errInvalidRequest, r.AchievementSlot)
	}
	return nil
}

// Confirmation carries the remote items sent back to the chat after a grant.
type Confirmation struct {
	ChatItemID string
	UserItemID string
	Engraving  string
	Path       string
}

// GrantNewAchievement grants the achievement described by the prompt. When the chat already
// has an achievement with the same engraving it is handed out again instead of drawn anew.
func (s *Service) GrantNewAchievement(ctx context.Context, req GrantRequest) (Confirmation, error) {
	if err := req.validate(); err != nil {
		return Confirmation{}, newServiceError(opGrant, "invalid_request", err)
	}
	if !s.locks.TryLock(req.ChatID) {
		return Confirmation{}, ErrChatBusy
	}
	defer s.locks.Unlock(req.ChatID)

	started := s.clock()
	confirmation, err := s.grantNew(ctx, req)
	path := confirmation.Path
	if path == "" {
		path = PathNew
	}
	s.recorder.RecordGrant(path, err, s.clock().Sub(started))
	return confirmation, err
}

func (s *Service) grantNew(ctx context.Context, req GrantRequest) (Confirmation, error) {
	prompt := filter.NormalizePrompt(req.Prompt)
	fields := []zap.Field{zap.Int64("chat_id", req.ChatID), zap.Int64("to_user_id", req.To.UserID)}

	if err := s.ledger.RecordPrompt(ctx, ledger.PromptRecord{
		ChatID:     req.ChatID,
		FromUserID: req.From.UserID,
		ToUserID:   req.To.UserID,
		Message:    req.Message,
		Prompt:     prompt,
	}); err != nil {
		return Confirmation{}, err
	}

	existing, found, err := s.ledger.FindByEngraving(ctx, req.ChatID, prompt)
	if err != nil {
		return Confirmation{}, err
	}
	if found {
		s.logger.Info("achievement already exists, granting it again", append(fields, zap.Int("slot", existing.SlotIndex))...)
		confirmation, err := s.regrant(ctx, RegrantRequest{
			ChatID:          req.ChatID,
			ChatTitle:       req.ChatTitle,
			OwnerID:         req.OwnerID,
			From:            req.From,
			To:              req.To,
			AchievementSlot: existing.SlotIndex - stickers.HalfBand,
		})
		confirmation.Path = PathExisting
		return confirmation, err
	}

	picture, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logError(opGrant, "generate_failed", err, fields...)
		return Confirmation{}, err
	}
	achievement, err := s.artist.Achievement(ctx, picture)
	if err != nil {
		s.logError(opGrant, "render_failed", err, fields...)
		return Confirmation{}, err
	}
	chatDescription, err := s.artist.ChatDescription(ctx, prompt, 1)
	if err != nil {
		s.logError(opGrant, "render_failed", err, fields...)
		return Confirmation{}, err
	}
	userDescription, err := s.artist.Description(ctx, prompt)
	if err != nil {
		s.logError(opGrant, "render_failed", err, fields...)
		return Confirmation{}, err
	}
	placeholder, err := s.artist.Placeholder(ctx)
	if err != nil {
		s.logError(opGrant, "render_failed", err, fields...)
		return Confirmation{}, err
	}

	chatPlacement, err := s.place(ctx, stickers.Target{
		Scope:     stickers.ChatScope(req.ChatID),
		OwnerID:   req.OwnerID,
		ChatTitle: req.ChatTitle,
	}, func([]stickers.MirrorRow) (stickers.Grant, error) {
		return stickers.Grant{
			Primary:     achievement,
			Secondary:   chatDescription,
			Placeholder: placeholder,
			Engraving:   prompt,
		}, nil
	})
	if err != nil {
		s.logError(opGrant, "chat_placement_failed", err, fields...)
		return Confirmation{}, err
	}

	userPlacement, err := s.placeUser(ctx, req.ChatID, req.ChatTitle, req.OwnerID, req.To, achievement, userDescription, placeholder, prompt)
	if err != nil {
		s.logError(opGrant, "user_placement_failed", err, fields...)
		return Confirmation{}, err
	}

	s.logger.Info("achievement granted", append(fields, zap.String("engraving", prompt), zap.Int("slot", chatPlacement.Plan.LastPrimaryIndex))...)
	return Confirmation{
		ChatItemID: chatPlacement.ConfirmationItemID,
		UserItemID: userPlacement.ConfirmationItemID,
		Engraving:  prompt,
		Path:       PathNew,
	}, nil
}

// RegrantExistingAchievement hands out an achievement of the chat collection to another member
// and increments its counter.
func (s *Service) RegrantExistingAchievement(ctx context.Context, req RegrantRequest) (Confirmation, error) {
	if err := req.validate(); err != nil {
		return Confirmation{}, newServiceError(opRegrant, "invalid_request", err)
	}
	if !s.locks.TryLock(req.ChatID) {
		return Confirmation{}, ErrChatBusy
	}
	defer s.locks.Unlock(req.ChatID)

	started := s.clock()
	confirmation, err := s.regrant(ctx, req)
	confirmation.Path = PathSticker
	s.recorder.RecordGrant(PathSticker, err, s.clock().Sub(started))
	return confirmation, err
}

func (s *Service) regrant(ctx context.Context, req RegrantRequest) (Confirmation, error) {
	fields := []zap.Field{zap.Int64("chat_id", req.ChatID), zap.Int64("to_user_id", req.To.UserID), zap.Int("slot", req.AchievementSlot)}
	chatScope := stickers.ChatScope(req.ChatID)

	achievementRow, found, err := s.ledger.RowAt(ctx, chatScope, req.AchievementSlot)
	if err != nil {
		return Confirmation{}, err
	}
	if !found || achievementRow.Kind != stickers.KindAchievement {
		return Confirmation{}, newServiceError(opRegrant, "not_achievement", ErrNotAchievement)
	}
	descriptionRow, found, err := s.ledger.RowAt(ctx, chatScope, req.AchievementSlot+stickers.HalfBand)
	if err != nil {
		return Confirmation{}, err
	}
	if !found || descriptionRow.Kind != stickers.KindDescription {
		drift := &stickers.DriftError{
			Collection: achievementRow.CollectionName,
			SlotIndex:  req.AchievementSlot + stickers.HalfBand,
			Detail:     "description missing from mirror",
		}
		s.logError(opRegrant, "missing_description", drift, fields...)
		return Confirmation{}, drift
	}

	data, err := s.blobs.Load(ctx, achievementRow.BlobPath)
	if err != nil {
		s.logError(opRegrant, "load_failed", err, append(fields, zap.String("path", achievementRow.BlobPath))...)
		return Confirmation{}, err
	}
	achievement := stickers.Image{Path: achievementRow.BlobPath, Data: data}
	userDescription, err := s.artist.Description(ctx, descriptionRow.EngravingText)
	if err != nil {
		s.logError(opRegrant, "render_failed", err, fields...)
		return Confirmation{}, err
	}
	placeholder, err := s.artist.Placeholder(ctx)
	if err != nil {
		s.logError(opRegrant, "render_failed", err, fields...)
		return Confirmation{}, err
	}

	ownerID := descriptionRow.CollectionOwnerID
	if ownerID == 0 {
		ownerID = req.OwnerID
	}
	userPlacement, err := s.placeUser(ctx, req.ChatID, req.ChatTitle, ownerID, req.To, achievement, userDescription, placeholder, descriptionRow.EngravingText)
	if err != nil {
		s.logError(opRegrant, "user_placement_failed", err, fields...)
		return Confirmation{}, err
	}

	chatItemID, err := s.recount(ctx, chatScope, descriptionRow.SlotIndex)
	if err != nil {
		s.logError(opRegrant, "recount_failed", err, fields...)
		return Confirmation{}, err
	}

	s.logger.Info("achievement granted again", append(fields, zap.String("engraving", descriptionRow.EngravingText))...)
	return Confirmation{
		ChatItemID: chatItemID,
		UserItemID: userPlacement.ConfirmationItemID,
		Engraving:  descriptionRow.EngravingText,
	}, nil
}

// place runs one synchronized placement inside the ledger's unit of work. grantFor sees the
// collection's current rows so seed pairs are only drawn for new collections.
func (s *Service) place(ctx context.Context, target stickers.Target, grantFor func(rows []stickers.MirrorRow) (stickers.Grant, error)) (stickers.Placement, error) {
	var placement stickers.Placement
	err := s.ledger.Update(ctx, target.Scope, func(rows []stickers.MirrorRow) ([]stickers.MirrorRow, error) {
		grant, err := grantFor(rows)
		if err != nil {
			return nil, err
		}
		placed, err := s.sync.Place(ctx, target, rows, grant)
		if err != nil {
			return nil, err
		}
		placement = placed
		return placed.Rows, nil
	})
	if err != nil {
		return stickers.Placement{}, err
	}
	s.recorder.RecordPlacement(string(target.Scope.Kind), string(placement.Plan.Mode))
	return placement, nil
}

func (s *Service) placeUser(
	ctx context.Context,
	chatID int64,
	chatTitle string,
	ownerID int64,
	recipient Participant,
	achievement stickers.Image,
	description stickers.Image,
	placeholder stickers.Image,
	engraving string,
) (stickers.Placement, error) {
	target := stickers.Target{
		Scope:     stickers.UserScope(chatID, recipient.UserID),
		OwnerID:   ownerID,
		ChatTitle: chatTitle,
		UserName:  recipient.Username,
	}
	return s.place(ctx, target, func(rows []stickers.MirrorRow) (stickers.Grant, error) {
		grant := stickers.Grant{
			Primary:     achievement,
			Secondary:   description,
			Placeholder: placeholder,
			Engraving:   engraving,
		}
		if len(rows) > 0 {
			return grant, nil
		}
		seed, err := s.seedPair(ctx, recipient, chatTitle)
		if err != nil {
			return stickers.Grant{}, err
		}
		grant.Seed = &seed
		return grant, nil
	})
}

// seedPair draws the profile sticker and its description that open a user collection.
func (s *Service) seedPair(ctx context.Context, recipient Participant, chatTitle string) (stickers.SeedPair, error) {
	photo, err := s.profiles.FetchProfileImage(ctx, recipient.UserID)
	if err != nil {
		return stickers.SeedPair{}, err
	}
	profile, err := s.artist.Profile(ctx, photo, recipient.Username)
	if err != nil {
		return stickers.SeedPair{}, err
	}
	profileDescription, err := s.artist.ProfileDescription(ctx, recipient.Username, chatTitle)
	if err != nil {
		return stickers.SeedPair{}, err
	}
	return stickers.SeedPair{Primary: profile, Secondary: profileDescription}, nil
}

// recount bumps the counter of the chat description at slot and returns its new remote id.
func (s *Service) recount(ctx context.Context, scope stickers.Scope, slot int) (string, error) {
	var previous, updated stickers.MirrorRow
	err := s.ledger.Update(ctx, scope, func(rows []stickers.MirrorRow) ([]stickers.MirrorRow, error) {
		for _, row := range rows {
			if row.SlotIndex != slot {
				continue
			}
			count := max(row.AchievedCount, 1) + 1
			image, err := s.artist.ChatDescription(ctx, row.EngravingText, count)
			if err != nil {
				return nil, err
			}
			recounted, err := s.sync.Recount(ctx, row, image, count)
			if err != nil {
				return nil, err
			}
			previous, updated = row, recounted
			return []stickers.MirrorRow{recounted}, nil
		}
		return nil, &stickers.DriftError{SlotIndex: slot, Detail: "description missing from mirror"}
	})
	if err != nil {
		return "", err
	}
	if previous.BlobPath != "" && previous.BlobPath != updated.BlobPath && previous.BlobPath != s.placeholderPath {
		if err := s.blobs.DeleteMany(ctx, []string{previous.BlobPath}); err != nil {
			s.logError(opRecount, "blob_cleanup_failed", err, zap.String("path", previous.BlobPath))
		}
	}
	return updated.RemoteItemID, nil
}

// ResetReport summarizes what Reset removed.
type ResetReport struct {
	Collections        []string `json:"collections"`
	MissingCollections []string `json:"missing_collections,omitempty"`
	DeletedFiles       int      `json:"deleted_files"`
	ChatRows           int64    `json:"chat_rows"`
	UserRows           int64    `json:"user_rows"`
}

// Reset deletes every collection of the chat together with its sticker files and mirror rows.
// Collections that are already gone remotely do not stop the reset.
func (s *Service) Reset(ctx context.Context, chatID int64) (ResetReport, error) {
	if chatID == 0 {
		return ResetReport{}, newServiceError(opReset, "invalid_request", fmt.Errorf("%w: chat id required", errInvalidRequest))
	}
	if !s.locks.TryLock(chatID) {
		return ResetReport{}, ErrChatBusy
	}
	defer s.locks.Unlock(chatID)

	fields := []zap.Field{zap.Int64("chat_id", chatID)}
	names, err := s.ledger.CollectionNames(ctx, chatID)
	if err != nil {
		return ResetReport{}, err
	}
	report := ResetReport{Collections: make([]string, 0, len(names))}
	for _, name := range names {
		err := s.remover.DeleteCollection(ctx, name)
		switch {
		case err == nil:
			report.Collections = append(report.Collections, name)
		case errors.Is(err, stickers.ErrCollectionNotFound):
			report.MissingCollections = append(report.MissingCollections, name)
		default:
			s.logError(opReset, "delete_collection_failed", err, append(fields, zap.String("collection", name))...)
			return report, err
		}
	}

	paths, err := s.ledger.BlobPaths(ctx, chatID)
	if err != nil {
		return report, err
	}
	deleted, err := s.ledger.DeleteAll(ctx, chatID)
	if err != nil {
		return report, err
	}
	report.ChatRows, report.UserRows = deleted.ChatRows, deleted.UserRows

	files := make([]string, 0, len(paths))
	for _, path := range paths {
		if path != s.placeholderPath {
			files = append(files, path)
		}
	}
	if err := s.blobs.DeleteMany(ctx, files); err != nil {
		s.logError(opReset, "blob_cleanup_failed", err, fields...)
	} else {
		report.DeletedFiles = len(files)
	}

	s.logger.Info("chat reset",
		zap.Int64("chat_id", chatID),
		zap.Strings("collections", report.Collections),
		zap.Int("deleted_files", report.DeletedFiles))
	return report, nil
}

// ResolveSticker finds the chat collection slot of a sticker by its stable remote identity.
func (s *Service) ResolveSticker(ctx context.Context, chatID int64, uniqueID string) (stickers.MirrorRow, bool, error) {
	return s.ledger.FindByUniqueID(ctx, chatID, uniqueID)
}

// CollectionName returns the remote name of a scope's collection, if it exists.
func (s *Service) CollectionName(ctx context.Context, scope stickers.Scope) (string, bool, error) {
	rows, err := s.ledger.Rows(ctx, scope)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].CollectionName, true, nil
}

// Collections summarizes the collections of a chat.
func (s *Service) Collections(ctx context.Context, chatID int64) ([]ledger.CollectionSummary, error) {
	return s.ledger.Collections(ctx, chatID)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("achievements error", attrs...)
}
