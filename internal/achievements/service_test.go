package achievements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/artist"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/blob"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/ledger"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testChatID  int64 = -1002
	testOwnerID int64 = 7
	testTitle         = "Night Owls"
)

var (
	alice = Participant{UserID: 101, Username: "alice"}
	bob   = Participant{UserID: 102, Username: "bob"}
	carol = Participant{UserID: 103, Username: "carol"}
)

type harness struct {
	service   *Service
	ledger    *ledger.Ledger
	remote    *fakeRemote
	store     *blob.MemoryStore
	artist    *fakeArtist
	generator *fakeGenerator
	recorder  *fakeRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(ledger.Models()...))

	book, err := ledger.New(ledger.Config{Database: db})
	require.NoError(t, err)

	sequence := 0
	names, err := stickers.NewNameGenerator("achievements_bot", func(n int) int {
		sequence++
		return sequence % n
	})
	require.NoError(t, err)

	remote := newFakeRemote()
	synchronizer, err := stickers.NewSynchronizer(stickers.SynchronizerConfig{Remote: remote, Names: names})
	require.NoError(t, err)

	store := blob.NewMemoryStore(blob.DefaultPrefix)
	fakeArt := &fakeArtist{store: store}
	generator := &fakeGenerator{}
	recorder := &fakeRecorder{}

	service, err := NewService(Config{
		Ledger:       book,
		Synchronizer: synchronizer,
		Artist:       fakeArt,
		Generator:    generator,
		Profiles:     fakeProfiles{photos: map[int64][]byte{bob.UserID: []byte("bob-photo")}},
		Blobs:        store,
		Remover:      remote,
		Recorder:     recorder,
		Locks:        mapmutex.NewCustomizedMapMutex(2, 10, 1, 1.1, 0.2),
		Clock:        func() time.Time { return time.Unix(1700000000, 0) },
	})
	require.NoError(t, err)

	return &harness{
		service:   service,
		ledger:    book,
		remote:    remote,
		store:     store,
		artist:    fakeArt,
		generator: generator,
		recorder:  recorder,
	}
}

func (h *harness) grant(t *testing.T, to Participant, prompt string) Confirmation {
	t.Helper()
	confirmation, err := h.service.GrantNewAchievement(context.Background(), GrantRequest{
		ChatID:    testChatID,
		ChatTitle: testTitle,
		OwnerID:   testOwnerID,
		From:      alice,
		To:        to,
		Message:   "give achievement " + prompt,
		Prompt:    prompt,
	})
	require.NoError(t, err)
	return confirmation
}

func (h *harness) rows(t *testing.T, scope stickers.Scope) []stickers.MirrorRow {
	t.Helper()
	rows, err := h.ledger.Rows(context.Background(), scope)
	require.NoError(t, err)
	return rows
}

func TestGrantNewAchievementCreatesChatAndUserCollections(t *testing.T) {
	h := newHarness(t)

	confirmation := h.grant(t, bob, "  Best   debugger ")

	require.Equal(t, PathNew, confirmation.Path)
	require.Equal(t, "Best debugger", confirmation.Engraving)
	require.Equal(t, 1, h.generator.calls)

	chatRows := h.rows(t, stickers.ChatScope(testChatID))
	require.Len(t, chatRows, stickers.BandSize)
	require.Equal(t, stickers.KindAchievement, chatRows[0].Kind)
	require.Equal(t, stickers.KindDescription, chatRows[5].Kind)
	require.Equal(t, "Best debugger", chatRows[5].EngravingText)
	require.Equal(t, 1, chatRows[5].AchievedCount)
	require.Equal(t, testOwnerID, chatRows[5].CollectionOwnerID)
	require.Equal(t, chatRows[5].RemoteItemID, confirmation.ChatItemID)
	require.Equal(t, []string{
		"achievement:picture of Best debugger", "empty", "empty", "empty", "empty",
		"chat_description:Best debugger#1", "empty", "empty", "empty", "empty",
	}, h.remote.contents(chatRows[0].CollectionName))
	require.Equal(t, "Night Owls achievements", h.remote.titles[chatRows[0].CollectionName])

	userRows := h.rows(t, stickers.UserScope(testChatID, bob.UserID))
	require.Len(t, userRows, stickers.BandSize)
	require.Equal(t, stickers.KindProfile, userRows[0].Kind)
	require.Equal(t, stickers.KindAchievement, userRows[1].Kind)
	require.Equal(t, stickers.KindProfileDescription, userRows[5].Kind)
	require.Equal(t, stickers.KindDescription, userRows[6].Kind)
	require.Equal(t, userRows[1].RemoteItemID, confirmation.UserItemID)
	require.Equal(t, []string{
		"profile:bob-photo", "achievement:picture of Best debugger", "empty", "empty", "empty",
		"profile_description:bob@Night Owls", "description:Best debugger", "empty", "empty", "empty",
	}, h.remote.contents(userRows[0].CollectionName))
	require.Equal(t, testOwnerID, h.remote.owners[userRows[0].CollectionName])

	require.Equal(t, []grantRecord{{path: PathNew}}, h.recorder.grants)
	require.Equal(t, []string{"chat/create", "user/create"}, h.recorder.placements)
}

func TestGrantNewAchievementFillsTheBandThenExpands(t *testing.T) {
	h := newHarness(t)

	for index := 0; index < stickers.HalfBand+1; index++ {
		h.grant(t, carol, fmt.Sprintf("feat %d", index))
	}

	chatRows := h.rows(t, stickers.ChatScope(testChatID))
	require.Len(t, chatRows, 2*stickers.BandSize)
	require.Equal(t, stickers.KindAchievement, chatRows[4].Kind)
	require.Equal(t, stickers.KindAchievement, chatRows[10].Kind)
	require.Equal(t, "feat 5", chatRows[15].EngravingText)
	require.Equal(t, stickers.KindEmpty, chatRows[11].Kind)

	userRows := h.rows(t, stickers.UserScope(testChatID, carol.UserID))
	require.Len(t, userRows, 2*stickers.BandSize)
	require.Equal(t, "profile:@carol", h.remote.contents(userRows[0].CollectionName)[0])
	require.Equal(t, stickers.KindAchievement, userRows[10].Kind)
	require.Equal(t, "feat 4", userRows[15].EngravingText)
}

func TestGrantNewAchievementRegrantsMatchingEngraving(t *testing.T) {
	h := newHarness(t)
	first := h.grant(t, bob, "Early bird")
	chatBefore := h.rows(t, stickers.ChatScope(testChatID))

	second := h.grant(t, carol, "Early bird")

	require.Equal(t, PathExisting, second.Path)
	require.Equal(t, 1, h.generator.calls)
	require.NotEqual(t, first.ChatItemID, second.ChatItemID)

	chatAfter := h.rows(t, stickers.ChatScope(testChatID))
	require.Len(t, chatAfter, stickers.BandSize)
	require.Equal(t, chatBefore[0].RemoteItemID, chatAfter[0].RemoteItemID)
	require.Equal(t, 2, chatAfter[5].AchievedCount)
	require.Equal(t, second.ChatItemID, chatAfter[5].RemoteItemID)
	require.Equal(t, "chat_description:Early bird#2", h.remote.contents(chatAfter[0].CollectionName)[5])

	_, err := h.store.Load(context.Background(), chatBefore[5].BlobPath)
	require.ErrorIs(t, err, blob.ErrNotFound)

	carolRows := h.rows(t, stickers.UserScope(testChatID, carol.UserID))
	require.Equal(t, chatBefore[0].BlobPath, carolRows[1].BlobPath)
	require.Equal(t, "achievement:picture of Early bird", h.remote.contents(carolRows[0].CollectionName)[1])
	require.Equal(t, []grantRecord{{path: PathNew}, {path: PathExisting}}, h.recorder.grants)
}

func TestRegrantExistingAchievementBySlot(t *testing.T) {
	h := newHarness(t)
	h.grant(t, bob, "Night shift")
	h.grant(t, bob, "Code review hero")

	confirmation, err := h.service.RegrantExistingAchievement(context.Background(), RegrantRequest{
		ChatID:          testChatID,
		ChatTitle:       testTitle,
		From:            alice,
		To:              carol,
		AchievementSlot: 1,
	})
	require.NoError(t, err)
	require.Equal(t, PathSticker, confirmation.Path)
	require.Equal(t, "Code review hero", confirmation.Engraving)

	chatRows := h.rows(t, stickers.ChatScope(testChatID))
	require.Equal(t, 1, chatRows[5].AchievedCount)
	require.Equal(t, 2, chatRows[6].AchievedCount)

	carolRows := h.rows(t, stickers.UserScope(testChatID, carol.UserID))
	require.Equal(t, "Code review hero", carolRows[6].EngravingText)
	require.Equal(t, testOwnerID, carolRows[0].CollectionOwnerID)
}

func TestRegrantExistingAchievementRejectsNonAchievementSlots(t *testing.T) {
	h := newHarness(t)
	h.grant(t, bob, "Night shift")
	ctx := context.Background()

	_, err := h.service.RegrantExistingAchievement(ctx, RegrantRequest{ChatID: testChatID, To: carol, AchievementSlot: 2})
	require.ErrorIs(t, err, ErrNotAchievement)

	_, err = h.service.RegrantExistingAchievement(ctx, RegrantRequest{ChatID: testChatID, To: carol, AchievementSlot: 5})
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, "achievements.regrant.invalid_request", serviceErr.Code())
}

func TestGrantNewAchievementKeepsMirrorOnFailure(t *testing.T) {
	h := newHarness(t)
	h.remote.failMethod = "create"

	_, err := h.service.GrantNewAchievement(context.Background(), GrantRequest{
		ChatID: testChatID, ChatTitle: testTitle, OwnerID: testOwnerID, From: alice, To: bob, Prompt: "Lost cause",
	})
	require.Error(t, err)
	require.Empty(t, h.rows(t, stickers.ChatScope(testChatID)))
	require.Len(t, h.recorder.grants, 1)
	require.Error(t, h.recorder.grants[0].err)
}

func TestGrantNewAchievementStopsOnGeneratorFailure(t *testing.T) {
	h := newHarness(t)
	upstream := errors.New("quota exceeded")
	h.generator.err = upstream

	_, err := h.service.GrantNewAchievement(context.Background(), GrantRequest{
		ChatID: testChatID, ChatTitle: testTitle, OwnerID: testOwnerID, From: alice, To: bob, Prompt: "Unlucky",
	})
	require.ErrorIs(t, err, upstream)
	require.Empty(t, h.remote.collections)
}

func TestGrantNewAchievementValidatesRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.GrantNewAchievement(context.Background(), GrantRequest{ChatID: testChatID, OwnerID: testOwnerID, To: bob, Prompt: "   "})
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, "achievements.grant.invalid_request", serviceErr.Code())
	require.Zero(t, h.generator.calls)
}

func TestGrantNewAchievementReportsBusyChat(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.service.locks.TryLock(testChatID))
	defer h.service.locks.Unlock(testChatID)

	_, err := h.service.GrantNewAchievement(context.Background(), GrantRequest{
		ChatID: testChatID, ChatTitle: testTitle, OwnerID: testOwnerID, From: alice, To: bob, Prompt: "Patience",
	})
	require.ErrorIs(t, err, ErrChatBusy)
}

func TestResetRemovesCollectionsFilesAndRows(t *testing.T) {
	h := newHarness(t)
	h.grant(t, bob, "Night shift")
	h.grant(t, carol, "Early bird")
	ctx := context.Background()

	userName, found, err := h.service.CollectionName(ctx, stickers.UserScope(testChatID, carol.UserID))
	require.NoError(t, err)
	require.True(t, found)
	delete(h.remote.collections, userName)

	report, err := h.service.Reset(ctx, testChatID)
	require.NoError(t, err)
	require.Len(t, report.Collections, 2)
	require.Equal(t, []string{userName}, report.MissingCollections)
	require.Equal(t, int64(2*stickers.BandSize), report.UserRows)
	require.Equal(t, int64(stickers.BandSize), report.ChatRows)
	require.Empty(t, h.remote.collections)

	require.Equal(t, 1, h.store.Len())
	_, err = h.store.Load(ctx, artist.DefaultPlaceholderPath)
	require.NoError(t, err)

	_, found, err = h.service.CollectionName(ctx, stickers.ChatScope(testChatID))
	require.NoError(t, err)
	require.False(t, found)
}

func TestResolveStickerFindsChatSlot(t *testing.T) {
	h := newHarness(t)
	h.grant(t, bob, "Night shift")
	chatRows := h.rows(t, stickers.ChatScope(testChatID))

	row, found, err := h.service.ResolveSticker(context.Background(), testChatID, chatRows[0].RemoteItemUniqueID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 0, row.SlotIndex)

	_, found, err = h.service.ResolveSticker(context.Background(), testChatID, "uniq-unknown")
	require.NoError(t, err)
	require.False(t, found)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(Config{})
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, "achievements.new.missing_ledger", serviceErr.Code())
}
