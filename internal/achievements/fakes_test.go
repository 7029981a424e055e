package achievements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/artist"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/blob"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
)

type fakeItem struct {
	stickers.RemoteItem
	data string
}

type fakeRemote struct {
	collections map[string][]fakeItem
	owners      map[string]int64
	titles      map[string]string
	deleted     []string
	sequence    int
	failMethod  string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		collections: map[string][]fakeItem{},
		owners:      map[string]int64{},
		titles:      map[string]string{},
	}
}

func (f *fakeRemote) check(method string) error {
	if f.failMethod == method {
		return fmt.Errorf("%s: remote unavailable", method)
	}
	return nil
}

func (f *fakeRemote) newItem(data []byte) fakeItem {
	f.sequence++
	return fakeItem{
		RemoteItem: stickers.RemoteItem{
			ID:       fmt.Sprintf("file-%d", f.sequence),
			UniqueID: fmt.Sprintf("uniq-%d", f.sequence),
		},
		data: string(data),
	}
}

func (f *fakeRemote) CreateCollection(_ context.Context, ownerID int64, name, title string, items [][]byte, _ string) error {
	if err := f.check("create"); err != nil {
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
	if err := f.check("append"); err != nil {
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
	if err := f.check("remove"); err != nil {
		return err
	}
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
	if err := f.check("reposition"); err != nil {
		return err
	}
	for name, items := range f.collections {
		for position, item := range items {
			if item.ID != itemID {
				continue
			}
			rest := append(items[:position:position], items[position+1:]...)
			index = min(index, len(rest))
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

func (f *fakeRemote) FetchCollection(_ context.Context, name string) ([]stickers.RemoteItem, error) {
	if err := f.check("fetch"); err != nil {
		return nil, err
	}
	items, exists := f.collections[name]
	if !exists {
		return nil, errors.New("collection missing")
	}
	listing := make([]stickers.RemoteItem, 0, len(items))
	for _, item := range items {
		listing = append(listing, item.RemoteItem)
	}
	return listing, nil
}

func (f *fakeRemote) DeleteCollection(_ context.Context, name string) error {
	if err := f.check("delete"); err != nil {
		return err
	}
	if _, exists := f.collections[name]; !exists {
		return errors.Join(stickers.ErrCollectionNotFound, errors.New("STICKERSET_INVALID"))
	}
	delete(f.collections, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeRemote) contents(name string) []string {
	items := f.collections[name]
	values := make([]string, 0, len(items))
	for _, item := range items {
		values = append(values, item.data)
	}
	return values
}

// fakeArtist encodes what it was asked to draw into the sticker bytes.
type fakeArtist struct {
	store   *blob.MemoryStore
	renders int
	failOn  string
}

func (a *fakeArtist) render(ctx context.Context, kind, content string) (stickers.Image, error) {
	if a.failOn == kind {
		return stickers.Image{}, fmt.Errorf("%s: render failed", kind)
	}
	a.renders++
	return a.store.SaveAt(ctx, fmt.Sprintf("%s%s-%d.png", blob.DefaultPrefix, kind, a.renders), []byte(kind+":"+content))
}

func (a *fakeArtist) Placeholder(ctx context.Context) (stickers.Image, error) {
	return a.store.SaveAt(ctx, artist.DefaultPlaceholderPath, []byte("empty"))
}

func (a *fakeArtist) Achievement(ctx context.Context, picture []byte) (stickers.Image, error) {
	return a.render(ctx, "achievement", string(picture))
}

func (a *fakeArtist) Description(ctx context.Context, text string) (stickers.Image, error) {
	return a.render(ctx, "description", text)
}

func (a *fakeArtist) ChatDescription(ctx context.Context, text string, count int) (stickers.Image, error) {
	return a.render(ctx, "chat_description", fmt.Sprintf("%s#%d", text, count))
}

func (a *fakeArtist) Profile(ctx context.Context, photo []byte, username string) (stickers.Image, error) {
	if len(photo) == 0 {
		return a.render(ctx, "profile", "@"+username)
	}
	return a.render(ctx, "profile", string(photo))
}

func (a *fakeArtist) ProfileDescription(ctx context.Context, username, chatTitle string) (stickers.Image, error) {
	return a.render(ctx, "profile_description", username+"@"+chatTitle)
}

type fakeGenerator struct {
	calls int
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, text string) ([]byte, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return []byte("picture of " + text), nil
}

type fakeProfiles struct {
	photos map[int64][]byte
}

func (p fakeProfiles) FetchProfileImage(_ context.Context, userID int64) ([]byte, error) {
	return p.photos[userID], nil
}

type grantRecord struct {
	path string
	err  error
}

type fakeRecorder struct {
	grants     []grantRecord
	placements []string
}

func (r *fakeRecorder) RecordGrant(path string, err error, _ time.Duration) {
	r.grants = append(r.grants, grantRecord{path: path, err: err})
}

func (r *fakeRecorder) RecordPlacement(scope, mode string) {
	r.placements = append(r.placements, scope+"/"+mode)
}
