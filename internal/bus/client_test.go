package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-vote/internal/config"
	"github.com/loqalabs/loqa-vote/internal/natsserver"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*natsserver.EmbeddedServer, *slog.Logger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{
		Enabled:  true,
		Embedded: true,
		Port:     -1,
		StoreDir: t.TempDir(),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	return srv, logger
}

func TestConnectAndPublishJSON(t *testing.T) {
	srv, logger := startServer(t)

	client, err := Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 1000,
	}, logger)
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.Healthy())

	sub, err := client.Conn().SubscribeSync("vote.tally.m1")
	require.NoError(t, err)
	require.NoError(t, client.Conn().Flush())

	require.NoError(t, client.PublishJSON("vote.tally.m1", map[string]int{"total": 3}))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var got map[string]int
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, 3, got["total"])
}

func TestConnectRequiresServers(t *testing.T) {
	_, err := Connect(context.Background(), config.BusConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestEmbeddedServerSkippedWhenDisabled(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: false}, slog.Default())
	require.NoError(t, err)
	require.Nil(t, srv)
	require.Equal(t, "", srv.ClientURL())
	srv.Shutdown()
}
