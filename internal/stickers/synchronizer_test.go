package stickers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

const testChatID int64 = -100500

func newTestSynchronizer(t *testing.T, remote RemoteCollection) *Synchronizer {
	t.Helper()
	counter := 0
	names, err := NewNameGenerator("achievements_bot", func(n int) int {
		counter++
		return counter % n
	})
	if err != nil {
		t.Fatalf("failed to create name generator: %v", err)
	}
	synchronizer, err := NewSynchronizer(SynchronizerConfig{Remote: remote, Names: names})
	if err != nil {
		t.Fatalf("failed to create synchronizer: %v", err)
	}
	return synchronizer
}

func chatTarget() Target {
	return Target{Scope: ChatScope(testChatID), OwnerID: 42, ChatTitle: "Climbers"}
}

func grantFor(label string) Grant {
	return Grant{
		Primary:     testImage(label + "-achievement"),
		Secondary:   testImage(label + "-description"),
		Placeholder: testImage("empty"),
		Engraving:   label,
	}
}

func TestPlaceCreatesCollectionOnFirstGrant(t *testing.T) {
	remote := newFakeRemote()
	synchronizer := newTestSynchronizer(t, remote)

	placement, err := synchronizer.Place(context.Background(), chatTarget(), nil, grantFor("first win"))
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if !strings.HasPrefix(placement.CollectionName, "chat") || !strings.HasSuffix(placement.CollectionName, "_by_achievements_bot") {
		t.Fatalf("unexpected collection name %q", placement.CollectionName)
	}
	if remote.titles[placement.CollectionName] != "Climbers achievements" {
		t.Fatalf("unexpected title %q", remote.titles[placement.CollectionName])
	}
	if len(placement.Rows) != BandSize {
		t.Fatalf("expected %d rows, got %d", BandSize, len(placement.Rows))
	}
	for _, row := range placement.Rows {
		switch row.SlotIndex {
		case 0:
			if row.Kind != KindAchievement || row.EngravingText != "" || row.AchievedCount != 0 {
				t.Fatalf("unexpected slot 0 row %+v", row)
			}
		case HalfBand:
			if row.Kind != KindDescription || row.EngravingText != "first win" || row.AchievedCount != 1 {
				t.Fatalf("unexpected slot 5 row %+v", row)
			}
		default:
			if row.Kind != KindEmpty {
				t.Fatalf("expected slot %d to be empty, got %s", row.SlotIndex, row.Kind)
			}
		}
		if row.CollectionOwnerID != 42 || row.ChatID != testChatID || row.UserID != 0 {
			t.Fatalf("unexpected ownership on row %+v", row)
		}
	}
	remoteItems := remote.collections[placement.CollectionName]
	if placement.ConfirmationItemID != remoteItems[HalfBand].ID {
		t.Fatalf("chat grants confirm with the description item, got %s", placement.ConfirmationItemID)
	}
}

func TestPlaceSeedsUserCollection(t *testing.T) {
	remote := newFakeRemote()
	synchronizer := newTestSynchronizer(t, remote)
	target := Target{Scope: UserScope(testChatID, 7), OwnerID: 42, ChatTitle: "Climbers", UserName: "alice"}
	grant := grantFor("first win")
	grant.Seed = &SeedPair{Primary: testImage("profile"), Secondary: testImage("profile-description")}

	placement, err := synchronizer.Place(context.Background(), target, nil, grant)
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if remote.titles[placement.CollectionName] != "@alice achievements in Climbers" {
		t.Fatalf("unexpected title %q", remote.titles[placement.CollectionName])
	}
	kinds := map[int]Kind{}
	for _, row := range placement.Rows {
		kinds[row.SlotIndex] = row.Kind
		if row.Kind == KindDescription && row.AchievedCount != 0 {
			t.Fatalf("user descriptions carry no counter, got %d", row.AchievedCount)
		}
	}
	if kinds[0] != KindProfile || kinds[1] != KindAchievement || kinds[5] != KindProfileDescription || kinds[6] != KindDescription {
		t.Fatalf("unexpected seeded kinds %v", kinds)
	}
	contents := remote.contents(placement.CollectionName)
	if contents[1] != "first win-achievement" || contents[6] != "first win-description" {
		t.Fatalf("unexpected seeded layout %v", contents)
	}
	if placement.ConfirmationItemID != remote.collections[placement.CollectionName][1].ID {
		t.Fatalf("user grants confirm with the achievement item")
	}
}

func TestPlaceSequenceKeepsBandLayout(t *testing.T) {
	remote := newFakeRemote()
	synchronizer := newTestSynchronizer(t, remote)
	state := mirror{}

	expectedModes := []PlanMode{
		PlanCreate, PlanReplace, PlanReplace, PlanReplace, PlanReplace,
		PlanExpand, PlanReplace, PlanReplace, PlanReplace, PlanReplace,
		PlanExpand, PlanReplace,
	}
	name := ""
	for grantNumber := 1; grantNumber <= len(expectedModes); grantNumber++ {
		label := fmt.Sprintf("grant-%d", grantNumber)
		placement, err := synchronizer.Place(context.Background(), chatTarget(), state.rows(), grantFor(label))
		if err != nil {
			t.Fatalf("grant %d failed: %v", grantNumber, err)
		}
		if placement.Plan.Mode != expectedModes[grantNumber-1] {
			t.Fatalf("grant %d: expected %s, got %s", grantNumber, expectedModes[grantNumber-1], placement.Plan.Mode)
		}
		state.apply(placement.Rows)
		name = placement.CollectionName

		bands := (grantNumber + HalfBand - 1) / HalfBand
		if remote.itemWrites != BandSize*bands+2*(grantNumber-bands) {
			t.Fatalf("grant %d: unexpected item writes %d", grantNumber, remote.itemWrites)
		}
		if len(remote.collections[name]) != BandSize*bands {
			t.Fatalf("grant %d: expected %d remote items, got %d", grantNumber, BandSize*bands, len(remote.collections[name]))
		}
	}

	contents := remote.contents(name)
	rows := state.rows()
	if len(rows) != len(contents) {
		t.Fatalf("mirror has %d rows for %d remote items", len(rows), len(contents))
	}
	for index, row := range rows {
		if row.SlotIndex != index {
			t.Fatalf("mirror slot gap at %d", index)
		}
		remoteItem := remote.collections[name][index]
		if row.RemoteItemID != remoteItem.ID || row.RemoteItemUniqueID != remoteItem.UniqueID {
			t.Fatalf("slot %d: mirror %s does not match remote %s", index, row.RemoteItemID, remoteItem.ID)
		}
	}

	// grant n lands at primary slot (n-1)/5*10 + (n-1)%5 with its description five slots later.
	for grantNumber := 1; grantNumber <= len(expectedModes); grantNumber++ {
		primary := (grantNumber-1)/HalfBand*BandSize + (grantNumber-1)%HalfBand
		label := fmt.Sprintf("grant-%d", grantNumber)
		if contents[primary] != label+"-achievement" || contents[primary+HalfBand] != label+"-description" {
			t.Fatalf("grant %d misplaced: %v", grantNumber, contents)
		}
		if rows[primary].Kind != KindAchievement || rows[primary+HalfBand].Kind != KindDescription {
			t.Fatalf("grant %d: unexpected kinds %s/%s", grantNumber, rows[primary].Kind, rows[primary+HalfBand].Kind)
		}
		if rows[primary+HalfBand].EngravingText != label {
			t.Fatalf("grant %d: unexpected engraving %q", grantNumber, rows[primary+HalfBand].EngravingText)
		}
	}
	for _, index := range []int{22, 23, 24, 27, 28, 29} {
		if contents[index] != "empty" || rows[index].Kind != KindEmpty {
			t.Fatalf("slot %d should still be a placeholder", index)
		}
	}
}

func TestPlaceReplaceRemovesHigherSlotFirst(t *testing.T) {
	remote := newFakeRemote()
	synchronizer := newTestSynchronizer(t, remote)
	state := mirror{}

	first, err := synchronizer.Place(context.Background(), chatTarget(), nil, grantFor("first"))
	if err != nil {
		t.Fatalf("first grant failed: %v", err)
	}
	state.apply(first.Rows)
	remote.calls = nil

	if _, err := synchronizer.Place(context.Background(), chatTarget(), state.rows(), grantFor("second")); err != nil {
		t.Fatalf("second grant failed: %v", err)
	}
	want := []string{"remove", "remove", "append", "append", "fetch", "reposition", "reposition", "fetch"}
	if strings.Join(remote.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected call order %v", remote.calls)
	}

	lastPrimary := -1
	for index, row := range state {
		if row.Kind.IsPrimary() && index > lastPrimary {
			lastPrimary = index
		}
	}
	primarySlot, secondarySlot := state[lastPrimary+1], state[lastPrimary+1+HalfBand]
	if primarySlot.Kind != KindEmpty || secondarySlot.Kind != KindEmpty {
		t.Fatalf("expected placeholders at %d and %d", lastPrimary+1, lastPrimary+1+HalfBand)
	}
	wantRemoved := []string{secondarySlot.RemoteItemID, primarySlot.RemoteItemID}
	if strings.Join(remote.removed, ",") != strings.Join(wantRemoved, ",") {
		t.Fatalf("expected secondary placeholder removed before primary %v, got %v", wantRemoved, remote.removed)
	}
}

func TestPlaceFailureReturnsNoRows(t *testing.T) {
	remote := newFakeRemote()
	synchronizer := newTestSynchronizer(t, remote)
	state := mirror{}

	first, err := synchronizer.Place(context.Background(), chatTarget(), nil, grantFor("first"))
	if err != nil {
		t.Fatalf("first grant failed: %v", err)
	}
	state.apply(first.Rows)

	remoteErr := errors.New("too many requests")
	remote.failMethod = "reposition"
	remote.failErr = remoteErr
	placement, err := synchronizer.Place(context.Background(), chatTarget(), state.rows(), grantFor("second"))
	if !errors.Is(err, remoteErr) {
		t.Fatalf("expected remote error to propagate, got %v", err)
	}
	if len(placement.Rows) != 0 || placement.ConfirmationItemID != "" {
		t.Fatalf("failed placement must not return rows: %+v", placement)
	}
}

func TestPlaceReportsDriftWhenRemoteShrank(t *testing.T) {
	remote := newFakeRemote()
	synchronizer := newTestSynchronizer(t, remote)
	state := mirror{}

	first, err := synchronizer.Place(context.Background(), chatTarget(), nil, grantFor("first"))
	if err != nil {
		t.Fatalf("first grant failed: %v", err)
	}
	state.apply(first.Rows)
	for index := 0; index < 4; index++ {
		grant, err := synchronizer.Place(context.Background(), chatTarget(), state.rows(), grantFor(fmt.Sprintf("g%d", index)))
		if err != nil {
			t.Fatalf("grant failed: %v", err)
		}
		state.apply(grant.Rows)
	}

	// someone removed items outside the bot; the next band lands at the wrong offsets.
	items := remote.collections[first.CollectionName]
	remote.collections[first.CollectionName] = items[:len(items)-3]

	_, err = synchronizer.Place(context.Background(), chatTarget(), state.rows(), grantFor("sixth"))
	var drift *DriftError
	if !errors.As(err, &drift) || !errors.Is(err, ErrCollectionDrift) {
		t.Fatalf("expected drift error, got %v", err)
	}
	if drift.Collection != first.CollectionName {
		t.Fatalf("unexpected drift collection %q", drift.Collection)
	}
}

func TestPlaceUsesStoredCollectionOwner(t *testing.T) {
	remote := newFakeRemote()
	synchronizer := newTestSynchronizer(t, remote)
	state := mirror{}

	first, err := synchronizer.Place(context.Background(), chatTarget(), nil, grantFor("first"))
	if err != nil {
		t.Fatalf("first grant failed: %v", err)
	}
	state.apply(first.Rows)

	target := chatTarget()
	target.OwnerID = 99
	second, err := synchronizer.Place(context.Background(), target, state.rows(), grantFor("second"))
	if err != nil {
		t.Fatalf("existing collections keep their owner: %v", err)
	}
	if second.Rows[0].CollectionOwnerID != 42 {
		t.Fatalf("expected owner 42, got %d", second.Rows[0].CollectionOwnerID)
	}
}

func TestRecountReplacesDescriptionInPlace(t *testing.T) {
	remote := newFakeRemote()
	synchronizer := newTestSynchronizer(t, remote)
	state := mirror{}

	first, err := synchronizer.Place(context.Background(), chatTarget(), nil, grantFor("first win"))
	if err != nil {
		t.Fatalf("first grant failed: %v", err)
	}
	state.apply(first.Rows)
	second, err := synchronizer.Place(context.Background(), chatTarget(), state.rows(), grantFor("second"))
	if err != nil {
		t.Fatalf("second grant failed: %v", err)
	}
	state.apply(second.Rows)

	description := state[HalfBand]
	achievement := state[0]
	before := remote.contents(first.CollectionName)

	updated, err := synchronizer.Recount(context.Background(), description, testImage("first win-x2"), 2)
	if err != nil {
		t.Fatalf("recount failed: %v", err)
	}
	if updated.SlotIndex != HalfBand || updated.AchievedCount != 2 || updated.EngravingText != "first win" {
		t.Fatalf("unexpected updated row %+v", updated)
	}
	if updated.RemoteItemID == description.RemoteItemID {
		t.Fatalf("expected a new remote id for the description")
	}
	if updated.BlobPath != "sticker_files/first win-x2.png" {
		t.Fatalf("unexpected blob path %q", updated.BlobPath)
	}

	after := remote.contents(first.CollectionName)
	for index := range before {
		want := before[index]
		if index == HalfBand {
			want = "first win-x2"
		}
		if after[index] != want {
			t.Fatalf("slot %d: expected %s, got %s", index, want, after[index])
		}
	}
	if remote.collections[first.CollectionName][0].ID != achievement.RemoteItemID {
		t.Fatalf("recount must not touch the achievement slot")
	}
}

func TestRecountRejectsNonDescription(t *testing.T) {
	synchronizer := newTestSynchronizer(t, newFakeRemote())
	_, err := synchronizer.Recount(context.Background(), MirrorRow{Kind: KindAchievement}, testImage("x"), 2)
	if !errors.Is(err, ErrNotDescription) {
		t.Fatalf("expected not description error, got %v", err)
	}
}

func TestFetchIsStableWithoutMutation(t *testing.T) {
	remote := newFakeRemote()
	synchronizer := newTestSynchronizer(t, remote)
	placement, err := synchronizer.Place(context.Background(), chatTarget(), nil, grantFor("first"))
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	firstListing, err := remote.FetchCollection(context.Background(), placement.CollectionName)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	secondListing, err := remote.FetchCollection(context.Background(), placement.CollectionName)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	for index := range firstListing {
		if firstListing[index] != secondListing[index] {
			t.Fatalf("listing changed at %d", index)
		}
	}
}

func TestNewSynchronizerValidatesDependencies(t *testing.T) {
	if _, err := NewSynchronizer(SynchronizerConfig{}); !errors.Is(err, ErrMissingRemote) {
		t.Fatalf("expected missing remote error, got %v", err)
	}
	if _, err := NewSynchronizer(SynchronizerConfig{Remote: newFakeRemote()}); !errors.Is(err, ErrMissingNameGenerator) {
		t.Fatalf("expected missing name generator error, got %v", err)
	}
}
