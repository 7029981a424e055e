package stickers

import "fmt"

// PlanMode describes how a plan changes the remote collection.
type PlanMode string

const (
	// PlanCreate creates the collection with a fresh band.
	PlanCreate PlanMode = "create"
	// PlanExpand appends a fresh band to a full collection.
	PlanExpand PlanMode = "expand"
	// PlanReplace swaps two placeholders of the current band.
	PlanReplace PlanMode = "replace"
)

// SeedPair holds the items placed ahead of the first grant of a new collection.
type SeedPair struct {
	Primary   Image
	Secondary Image
}

// AllocationRequest carries the images of one grant.
type AllocationRequest struct {
	Primary     Image
	Secondary   Image
	Placeholder Image
	// Seed is only used when the collection does not exist yet.
	Seed *SeedPair
}

// Assignment places one image at an absolute slot index.
type Assignment struct {
	Index int
	Image Image
}

// Plan is the outcome of slot allocation for one grant.
type Plan struct {
	Mode PlanMode
	// Assignments are ordered by ascending slot index.
	Assignments      []Assignment
	LastPrimaryIndex int
	Seeded           bool
}

// NeedsCollection reports whether the remote collection has to be created.
func (p Plan) NeedsCollection() bool {
	return p.Mode == PlanCreate
}

// SecondaryIndex is the slot holding the description paired with the new primary item.
func (p Plan) SecondaryIndex() int {
	return p.LastPrimaryIndex + HalfBand
}

// KindAt derives the kind of a slot touched by the plan from band arithmetic.
func (p Plan) KindAt(index int) Kind {
	if p.Seeded {
		switch index {
		case 0:
			return KindProfile
		case HalfBand:
			return KindProfileDescription
		}
	}
	if IsPrimarySlot(index) {
		if index <= p.LastPrimaryIndex {
			return KindAchievement
		}
		return KindEmpty
	}
	if index <= p.LastPrimaryIndex+HalfBand {
		return KindDescription
	}
	return KindEmpty
}

// Allocate computes where the images of a grant land, given the mirror rows of the
// collection ordered by slot index. It performs no I/O.
func Allocate(rows []MirrorRow, req AllocationRequest) (Plan, error) {
	if len(req.Primary.Data) == 0 || len(req.Secondary.Data) == 0 {
		return Plan{}, ErrMissingImage
	}

	if len(rows) == 0 {
		if len(req.Placeholder.Data) == 0 {
			return Plan{}, ErrMissingPlaceholder
		}
		plan := Plan{
			Mode:        PlanCreate,
			Assignments: freshBand(0, req.Primary, req.Secondary, req.Placeholder),
		}
		if req.Seed != nil {
			if len(req.Seed.Primary.Data) == 0 || len(req.Seed.Secondary.Data) == 0 {
				return Plan{}, fmt.Errorf("%w: seed pair", ErrMissingImage)
			}
			plan.Assignments[0].Image = req.Seed.Primary
			plan.Assignments[1].Image = req.Primary
			plan.Assignments[HalfBand].Image = req.Seed.Secondary
			plan.Assignments[HalfBand+1].Image = req.Secondary
			plan.LastPrimaryIndex = 1
			plan.Seeded = true
		}
		return plan, nil
	}

	last, ok := lastPrimaryIndex(rows)
	if !ok {
		return Plan{}, &DriftError{
			Collection: rows[0].CollectionName,
			SlotIndex:  -1,
			Size:       len(rows),
			Detail:     "no occupied primary slot in mirror",
		}
	}

	if (last+1)%HalfBand == 0 {
		if len(req.Placeholder.Data) == 0 {
			return Plan{}, ErrMissingPlaceholder
		}
		base := last + HalfBand + 1
		return Plan{
			Mode:             PlanExpand,
			Assignments:      freshBand(base, req.Primary, req.Secondary, req.Placeholder),
			LastPrimaryIndex: base,
		}, nil
	}

	next := last + 1
	return Plan{
		Mode: PlanReplace,
		Assignments: []Assignment{
			{Index: next, Image: req.Primary},
			{Index: next + HalfBand, Image: req.Secondary},
		},
		LastPrimaryIndex: next,
	}, nil
}

func freshBand(base int, primary, secondary, placeholder Image) []Assignment {
	band := make([]Assignment, BandSize)
	for offset := range band {
		band[offset] = Assignment{Index: base + offset, Image: placeholder}
	}
	band[0].Image = primary
	band[HalfBand].Image = secondary
	return band
}

func lastPrimaryIndex(rows []MirrorRow) (int, bool) {
	last := -1
	for _, row := range rows {
		if row.Kind.IsPrimary() && row.SlotIndex > last {
			last = row.SlotIndex
		}
	}
	return last, last >= 0
}
