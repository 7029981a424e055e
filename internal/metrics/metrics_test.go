package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorsCountByLabel(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveCall("getStickerSet", nil)
	m.ObserveCall("getStickerSet", errors.New("boom"))
	m.ObserveCall("getStickerSet", nil)
	m.RecordGrant("new", nil, 2*time.Second)
	m.RecordPlacement("chat", "create")
	m.RecordWarning("show_stickers", true)
	m.RecordUpdate("message")

	require.Equal(t, 2.0, testutil.ToFloat64(m.telegramCalls.WithLabelValues("getStickerSet", OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.telegramCalls.WithLabelValues("getStickerSet", OutcomeFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.grants.WithLabelValues("new", OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.placements.WithLabelValues("chat", "create")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.warnings.WithLabelValues("show_stickers", "true")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.updates.WithLabelValues("message")))

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 6)
}
