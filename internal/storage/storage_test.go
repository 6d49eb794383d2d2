package storage_test

import (
	"bytes"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProjectRStore/itemsync/internal/config"
	"github.com/ProjectRStore/itemsync/internal/logging"
	"github.com/ProjectRStore/itemsync/internal/storage"
	"github.com/ProjectRStore/itemsync/internal/storage/memory"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

func spawn(id int) streaming.Envelope {
	return streaming.Envelope{
		Type:          streaming.TypeSpawnAssign,
		From:          1,
		Target:        streaming.TargetAll,
		Buffered:      true,
		ByCoordinator: true,
		Payload:       json.RawMessage(`{"objectId":` + strconv.Itoa(id) + `}`),
	}
}

func sellSnapshot(cycle string) streaming.Envelope {
	return streaming.Envelope{
		Type:     streaming.TypeSellSnapshot,
		From:     1,
		Target:   streaming.TargetAll,
		Buffered: true,
		Key:      "sell_machine",
		Payload:  json.RawMessage(`{"cycle":` + cycle + `}`),
	}
}

func backends(t *testing.T) map[string]storage.Backend {
	t.Helper()
	var buf bytes.Buffer
	log := logging.NewZerolog(&buf, "info")

	sqlite, err := storage.NewBackend(config.StorageConfig{Type: "sqlite"}, log)
	require.NoError(t, err)

	out := map[string]storage.Backend{
		"memory": memory.New(),
		"sqlite": sqlite,
	}
	for name, b := range out {
		require.NoError(t, b.Init(), name)
		t.Cleanup(func() { _ = b.Close() })
	}
	return out
}

func TestBackends_AppendAndReplay(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.AppendBuffered("shop", spawn(1)))
			require.NoError(t, b.AppendBuffered("shop", spawn(2)))
			require.NoError(t, b.AppendBuffered("other", spawn(3)))

			msgs, err := b.Buffered("shop")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.JSONEq(t, `{"objectId":1}`, string(msgs[0].Payload))
			assert.JSONEq(t, `{"objectId":2}`, string(msgs[1].Payload))
			assert.Equal(t, streaming.TypeSpawnAssign, msgs[0].Type)
			assert.Equal(t, streaming.TargetAll, msgs[0].Target)
			assert.True(t, msgs[0].Buffered)
			assert.True(t, msgs[0].ByCoordinator, "the sender's role survives storage")
		})
	}
}

func TestBackends_KeyReplacesPrevious(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.AppendBuffered("shop", sellSnapshot("1")))
			require.NoError(t, b.AppendBuffered("shop", spawn(1)))
			require.NoError(t, b.AppendBuffered("shop", sellSnapshot("2")))

			msgs, err := b.Buffered("shop")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, streaming.TypeSpawnAssign, msgs[0].Type)
			assert.Equal(t, "sell_machine", msgs[1].Key)
			assert.JSONEq(t, `{"cycle":2}`, string(msgs[1].Payload), "latest snapshot moves to the end")

			require.NoError(t, b.ClearBuffered("shop", "sell_machine"))
			msgs, err = b.Buffered("shop")
			require.NoError(t, err)
			assert.Len(t, msgs, 1)
		})
	}
}

func TestBackends_DropSession(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.AppendBuffered("shop", spawn(1)))
			require.NoError(t, b.AppendBuffered("other", spawn(2)))
			require.NoError(t, b.DropSession("shop"))

			msgs, err := b.Buffered("shop")
			require.NoError(t, err)
			assert.Empty(t, msgs)

			msgs, err = b.Buffered("other")
			require.NoError(t, err)
			assert.Len(t, msgs, 1)
		})
	}
}

func TestNewBackend(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewZerolog(&buf, "info")

	tests := []struct {
		typ     string
		wantErr bool
	}{
		{"memory", false},
		{"", false},
		{"sqlite", false},
		{"postgres", false},
		{"redis", true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			b, err := storage.NewBackend(config.StorageConfig{Type: tt.typ}, log)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unknown storage type")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, b)
		})
	}
}
