package blob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()

	image, err := store.Save(ctx, []byte("png-bytes"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(image.Path, DefaultPrefix))
	require.True(t, strings.HasSuffix(image.Path, ".png"))

	loaded, err := store.Load(ctx, image.Path)
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), loaded)

	other, err := store.Save(ctx, []byte("other"))
	require.NoError(t, err)
	require.NotEqual(t, image.Path, other.Path)

	require.NoError(t, store.DeleteMany(ctx, []string{image.Path, "sticker_files/missing.png"}))
	_, err = store.Load(ctx, image.Path)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, store.Len())
}

func TestMemoryStoreValidatesInput(t *testing.T) {
	store := NewMemoryStore("custom")
	ctx := context.Background()

	_, err := store.Save(ctx, nil)
	require.ErrorIs(t, err, ErrEmptyObject)

	_, err = store.SaveAt(ctx, "../escape.png", []byte("x"))
	require.ErrorIs(t, err, ErrInvalidPath)

	image, err := store.SaveAt(ctx, "sticker_files/empty.png", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "sticker_files/empty.png", image.Path)

	generated, err := store.Save(ctx, []byte("y"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(generated.Path, "custom/"))
}

func TestNewMinioStoreCreatesMissingBucket(t *testing.T) {
	var (
		mu      sync.Mutex
		created bool
		methods []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		methods = append(methods, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodHead:
			if created {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			created = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	defer server.Close()

	endpoint, err := url.Parse(server.URL)
	require.NoError(t, err)

	store, err := NewMinioStore(context.Background(), MinioConfig{
		Endpoint:  endpoint.Host,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "stickers",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	require.NotNil(t, store)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, created, "expected bucket creation, saw %v", methods)
	require.True(t, strings.HasPrefix(methods[0], "HEAD /stickers"), "unexpected first request %q", methods[0])
}

func TestNewMinioStoreRequiresEndpoint(t *testing.T) {
	_, err := NewMinioStore(context.Background(), MinioConfig{})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}
