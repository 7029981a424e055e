package stickers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultEmoji is attached to every item added to a collection.
const DefaultEmoji = "🥇"

// RemoteItem is one entry of a fetched remote collection.
type RemoteItem struct {
	ID       string
	UniqueID string
}

// RemoteCollection is the append/reorder-only collection API the synchronizer drives.
type RemoteCollection interface {
	CreateCollection(ctx context.Context, ownerID int64, name, title string, items [][]byte, emoji string) error
	AppendItem(ctx context.Context, ownerID int64, name string, item []byte, emoji string) error
	RemoveItem(ctx context.Context, itemID string) error
	RepositionItem(ctx context.Context, itemID string, index int) error
	FetchCollection(ctx context.Context, name string) ([]RemoteItem, error)
}

// Target describes the collection a grant lands in.
type Target struct {
	Scope Scope
	// OwnerID is the principal owning newly created collections.
	OwnerID   int64
	ChatTitle string
	UserName  string
}

// Grant carries the content of one achievement grant.
type Grant struct {
	Primary     Image
	Secondary   Image
	Placeholder Image
	Seed        *SeedPair
	Engraving   string
}

// Placement is the result of a synchronized grant.
type Placement struct {
	Plan           Plan
	CollectionName string
	// Rows holds the refreshed mirror rows of every slot the plan touched.
	Rows               []MirrorRow
	ConfirmationItemID string
}

// SynchronizerConfig describes the collaborators of a Synchronizer.
type SynchronizerConfig struct {
	Remote RemoteCollection
	Names  *NameGenerator
	Emoji  string
	Logger *zap.Logger
}

// Synchronizer executes allocation plans against a remote collection and derives mirror rows.
type Synchronizer struct {
	remote RemoteCollection
	names  *NameGenerator
	emoji  string
	logger *zap.Logger
}

// NewSynchronizer validates the configuration and returns a Synchronizer.
func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Remote == nil {
		return nil, ErrMissingRemote
	}
	if cfg.Names == nil {
		return nil, ErrMissingNameGenerator
	}
	emoji := strings.TrimSpace(cfg.Emoji)
	if emoji == "" {
		emoji = DefaultEmoji
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		remote: cfg.Remote,
		names:  cfg.Names,
		emoji:  emoji,
		logger: logger,
	}, nil
}

// Place allocates slots for a grant, applies the plan remotely, refetches the collection and
// returns the mirror rows of the touched slots. Nothing is returned on a partial failure,
// so callers never persist rows of an incomplete plan.
func (s *Synchronizer) Place(ctx context.Context, target Target, rows []MirrorRow, grant Grant) (Placement, error) {
	if err := target.Scope.Validate(); err != nil {
		return Placement{}, err
	}

	plan, err := Allocate(rows, AllocationRequest{
		Primary:     grant.Primary,
		Secondary:   grant.Secondary,
		Placeholder: grant.Placeholder,
		Seed:        grant.Seed,
	})
	if err != nil {
		return Placement{}, err
	}

	ownerID := target.OwnerID
	name := ""
	if !plan.NeedsCollection() {
		name = rows[0].CollectionName
		if rows[0].CollectionOwnerID != 0 {
			ownerID = rows[0].CollectionOwnerID
		}
	}

	s.logger.Debug("placing grant",
		zap.String("scope", target.Scope.String()),
		zap.String("mode", string(plan.Mode)),
		zap.Int("last_primary_index", plan.LastPrimaryIndex))

	switch plan.Mode {
	case PlanCreate:
		name, err = s.names.Generate(target.Scope)
		if err != nil {
			return Placement{}, err
		}
		items := make([][]byte, 0, len(plan.Assignments))
		for _, assignment := range plan.Assignments {
			items = append(items, assignment.Image.Data)
		}
		title := CollectionTitle(target.Scope, target.ChatTitle, target.UserName)
		if err := s.remote.CreateCollection(ctx, ownerID, name, title, items, s.emoji); err != nil {
			return Placement{}, fmt.Errorf("create collection %s: %w", name, err)
		}
	case PlanExpand:
		for _, assignment := range plan.Assignments {
			if err := s.remote.AppendItem(ctx, ownerID, name, assignment.Image.Data, s.emoji); err != nil {
				return Placement{}, fmt.Errorf("append slot %d to %s: %w", assignment.Index, name, err)
			}
		}
	case PlanReplace:
		if err := s.replacePair(ctx, ownerID, name, rows, plan); err != nil {
			return Placement{}, err
		}
	}

	items, err := s.remote.FetchCollection(ctx, name)
	if err != nil {
		return Placement{}, fmt.Errorf("fetch collection %s: %w", name, err)
	}

	placement := Placement{
		Plan:           plan,
		CollectionName: name,
		Rows:           make([]MirrorRow, 0, len(plan.Assignments)),
	}
	for _, assignment := range plan.Assignments {
		item, err := itemAt(name, items, assignment.Index)
		if err != nil {
			return Placement{}, err
		}
		row := MirrorRow{
			RemoteItemID:       item.ID,
			RemoteItemUniqueID: item.UniqueID,
			SlotIndex:          assignment.Index,
			CollectionName:     name,
			CollectionOwnerID:  ownerID,
			ChatID:             target.Scope.ChatID,
			UserID:             target.Scope.UserID,
			Kind:               plan.KindAt(assignment.Index),
			BlobPath:           assignment.Image.Path,
		}
		if row.Kind == KindDescription {
			row.EngravingText = grant.Engraving
			if target.Scope.CountsAchievements() {
				row.AchievedCount = 1
			}
		}
		placement.Rows = append(placement.Rows, row)
	}

	confirmation, err := itemAt(name, items, target.Scope.ConfirmationSlot(plan.LastPrimaryIndex))
	if err != nil {
		return Placement{}, err
	}
	placement.ConfirmationItemID = confirmation.ID
	return placement, nil
}

// replacePair swaps the two placeholders of a replace plan. The higher slot is removed first
// so the lower slot keeps its position; the appended items are then moved lower target first,
// because moving an item into the lower slot shifts everything after it.
func (s *Synchronizer) replacePair(ctx context.Context, ownerID int64, name string, rows []MirrorRow, plan Plan) error {
	lower, upper := plan.Assignments[0], plan.Assignments[1]
	byIndex := make(map[int]MirrorRow, len(rows))
	for _, row := range rows {
		byIndex[row.SlotIndex] = row
	}
	upperRow, ok := byIndex[upper.Index]
	if !ok {
		return &DriftError{Collection: name, SlotIndex: upper.Index, Size: len(rows), Detail: "slot missing from mirror"}
	}
	lowerRow, ok := byIndex[lower.Index]
	if !ok {
		return &DriftError{Collection: name, SlotIndex: lower.Index, Size: len(rows), Detail: "slot missing from mirror"}
	}

	if err := s.remote.RemoveItem(ctx, upperRow.RemoteItemID); err != nil {
		return fmt.Errorf("remove slot %d from %s: %w", upper.Index, name, err)
	}
	if err := s.remote.RemoveItem(ctx, lowerRow.RemoteItemID); err != nil {
		return fmt.Errorf("remove slot %d from %s: %w", lower.Index, name, err)
	}
	if err := s.remote.AppendItem(ctx, ownerID, name, lower.Image.Data, s.emoji); err != nil {
		return fmt.Errorf("append slot %d to %s: %w", lower.Index, name, err)
	}
	if err := s.remote.AppendItem(ctx, ownerID, name, upper.Image.Data, s.emoji); err != nil {
		return fmt.Errorf("append slot %d to %s: %w", upper.Index, name, err)
	}

	items, err := s.remote.FetchCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("fetch collection %s: %w", name, err)
	}
	if len(items) < 2 {
		return &DriftError{Collection: name, SlotIndex: upper.Index, Size: len(items), Detail: "appended items missing"}
	}
	appendedLower, appendedUpper := items[len(items)-2], items[len(items)-1]

	if err := s.remote.RepositionItem(ctx, appendedLower.ID, lower.Index); err != nil {
		return fmt.Errorf("reposition slot %d in %s: %w", lower.Index, name, err)
	}
	if err := s.remote.RepositionItem(ctx, appendedUpper.ID, upper.Index); err != nil {
		return fmt.Errorf("reposition slot %d in %s: %w", upper.Index, name, err)
	}
	return nil
}

// Recount replaces a description slot with an image showing count and returns the refreshed row.
func (s *Synchronizer) Recount(ctx context.Context, row MirrorRow, image Image, count int) (MirrorRow, error) {
	if row.Kind != KindDescription {
		return MirrorRow{}, fmt.Errorf("%w: slot %d is %s", ErrNotDescription, row.SlotIndex, row.Kind)
	}
	if len(image.Data) == 0 {
		return MirrorRow{}, ErrMissingImage
	}
	name := row.CollectionName

	if err := s.remote.RemoveItem(ctx, row.RemoteItemID); err != nil {
		return MirrorRow{}, fmt.Errorf("remove slot %d from %s: %w", row.SlotIndex, name, err)
	}
	if err := s.remote.AppendItem(ctx, row.CollectionOwnerID, name, image.Data, s.emoji); err != nil {
		return MirrorRow{}, fmt.Errorf("append slot %d to %s: %w", row.SlotIndex, name, err)
	}
	items, err := s.remote.FetchCollection(ctx, name)
	if err != nil {
		return MirrorRow{}, fmt.Errorf("fetch collection %s: %w", name, err)
	}
	if len(items) == 0 {
		return MirrorRow{}, &DriftError{Collection: name, SlotIndex: row.SlotIndex, Size: 0, Detail: "appended item missing"}
	}
	appended := items[len(items)-1]
	if err := s.remote.RepositionItem(ctx, appended.ID, row.SlotIndex); err != nil {
		return MirrorRow{}, fmt.Errorf("reposition slot %d in %s: %w", row.SlotIndex, name, err)
	}

	items, err = s.remote.FetchCollection(ctx, name)
	if err != nil {
		return MirrorRow{}, fmt.Errorf("fetch collection %s: %w", name, err)
	}
	item, err := itemAt(name, items, row.SlotIndex)
	if err != nil {
		return MirrorRow{}, err
	}
	if item.UniqueID != appended.UniqueID {
		return MirrorRow{}, &DriftError{Collection: name, SlotIndex: row.SlotIndex, Size: len(items), Detail: "repositioned item not found at slot"}
	}

	updated := row
	updated.RemoteItemID = item.ID
	updated.RemoteItemUniqueID = item.UniqueID
	updated.AchievedCount = count
	updated.BlobPath = image.Path
	return updated, nil
}

func itemAt(name string, items []RemoteItem, index int) (RemoteItem, error) {
	if index < 0 || index >= len(items) {
		return RemoteItem{}, &DriftError{Collection: name, SlotIndex: index, Size: len(items), Detail: "slot missing from remote collection"}
	}
	return items[index], nil
}
