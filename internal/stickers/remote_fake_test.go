package stickers

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

type fakeItem struct {
	RemoteItem
	data []byte
}

type fakeRemote struct {
	collections map[string][]fakeItem
	owners      map[string]int64
	titles      map[string]string
	sequence    int
	itemWrites  int
	calls       []string
	removed     []string
	failMethod  string
	failErr     error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		collections: map[string][]fakeItem{},
		owners:      map[string]int64{},
		titles:      map[string]string{},
	}
}

func (f *fakeRemote) fail(method string) error {
	f.calls = append(f.calls, method)
	if f.failMethod == method {
		if f.failErr == nil {
			return errors.New("remote unavailable")
		}
		return f.failErr
	}
	return nil
}

func (f *fakeRemote) newItem(data []byte) fakeItem {
	f.sequence++
	f.itemWrites++
	return fakeItem{
		RemoteItem: RemoteItem{
			ID:       fmt.Sprintf("file-%d", f.sequence),
			UniqueID: fmt.Sprintf("uniq-%d", f.sequence),
		},
		data: data,
	}
}

func (f *fakeRemote) CreateCollection(_ context.Context, ownerID int64, name, title string, items [][]byte, _ string) error {
	if err := f.fail("create"); err != nil {
		return err
	}
	if _, exists := f.collections[name]; exists {
		return errors.New("collection exists")
	}
	created := make([]fakeItem, 0, len(items))
	for _, data := range items {
		created = append(created, f.newItem(data))
	}
	f.collections[name] = created
	f.owners[name] = ownerID
	f.titles[name] = title
	return nil
}

func (f *fakeRemote) AppendItem(_ context.Context, ownerID int64, name string, item []byte, _ string) error {
	if err := f.fail("append"); err != nil {
		return err
	}
	if _, exists := f.collections[name]; !exists {
		return errors.New("collection missing")
	}
	if f.owners[name] != ownerID {
		return errors.New("owner mismatch")
	}
	f.collections[name] = append(f.collections[name], f.newItem(item))
	return nil
}

func (f *fakeRemote) RemoveItem(_ context.Context, itemID string) error {
	if err := f.fail("remove"); err != nil {
		return err
	}
	f.removed = append(f.removed, itemID)
	for name, items := range f.collections {
		for position, item := range items {
			if item.ID == itemID {
				f.collections[name] = append(items[:position:position], items[position+1:]...)
				return nil
			}
		}
	}
	return errors.New("item missing")
}

func (f *fakeRemote) RepositionItem(_ context.Context, itemID string, index int) error {
	if err := f.fail("reposition"); err != nil {
		return err
	}
	for name, items := range f.collections {
		for position, item := range items {
			if item.ID != itemID {
				continue
			}
			rest := append(items[:position:position], items[position+1:]...)
			if index > len(rest) {
				index = len(rest)
			}
			moved := make([]fakeItem, 0, len(items))
			moved = append(moved, rest[:index]...)
			moved = append(moved, item)
			moved = append(moved, rest[index:]...)
			f.collections[name] = moved
			return nil
		}
	}
	return errors.New("item missing")
}

func (f *fakeRemote) FetchCollection(_ context.Context, name string) ([]RemoteItem, error) {
	if err := f.fail("fetch"); err != nil {
		return nil, err
	}
	items, exists := f.collections[name]
	if !exists {
		return nil, errors.New("collection missing")
	}
	listing := make([]RemoteItem, 0, len(items))
	for _, item := range items {
		listing = append(listing, item.RemoteItem)
	}
	return listing, nil
}

func (f *fakeRemote) contents(name string) []string {
	items := f.collections[name]
	values := make([]string, 0, len(items))
	for _, item := range items {
		values = append(values, string(item.data))
	}
	return values
}

// mirror keeps mirror rows the way the ledger does: one row per slot, upserted in place.
type mirror map[int]MirrorRow

func (m mirror) apply(rows []MirrorRow) {
	for _, row := range rows {
		m[row.SlotIndex] = row
	}
}

func (m mirror) rows() []MirrorRow {
	ordered := make([]MirrorRow, 0, len(m))
	for _, row := range m {
		ordered = append(ordered, row)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SlotIndex < ordered[j].SlotIndex })
	return ordered
}
