package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/social/internal/action"
	"github.com/Zereker/social/internal/api/consumer"
	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/pkg/log"
	"github.com/Zereker/social/pkg/mq"
	"github.com/Zereker/social/pkg/relation"
)

func testConfig(t *testing.T, backend string) Config {
	t.Helper()
	dir := t.TempDir()

	cfg := Config{
		Server: ServerConfig{Port: 18080},
		Log: log.Config{
			Path:           filepath.Join(dir, "logs"),
			RotationTime:   "24h",
			MaxAge:         "168h",
			DefaultPattern: log.DefaultPattern,
			Level:          "warn",
			Format:         "text",
		},
		Engine: EngineConfig{NodeID: "test-node", PersistTimeout: "2s"},
		Graph: GraphConfig{
			Backend: backend,
			Users: []UserSeed{
				{ID: "u1", Name: "Ann"},
				{ID: "u2", Name: "Bob"},
			},
		},
		SQLite: relation.SQLiteConfig{Path: filepath.Join(dir, "social.db")},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestServer(t *testing.T, backend string) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(t, backend))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv
}

func TestNewServer(t *testing.T) {
	for _, backend := range []string{BackendMemory, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			srv := newTestServer(t, backend)
			ctx := context.Background()

			res, err := srv.Friends().ApplyAction(ctx, "u1", domain.ActionFollow, "u2")
			require.NoError(t, err)
			assert.Equal(t, domain.StateFollowing, res.State)

			_, err = srv.Friends().ApplyAction(ctx, "u1", domain.ActionFollow, "ghost")
			assert.True(t, domain.IsNotFound(err), "only seeded users exist")
		})
	}
}

func TestLocalCommandQueue(t *testing.T) {
	srv := newTestServer(t, BackendMemory)
	ctx := context.Background()

	queue, ok := srv.queue.(*mq.InMemoryQueue)
	require.True(t, ok, "kafka disabled falls back to the in-process queue")

	raw, err := json.Marshal(consumer.Command{
		UserID: "u2",
		Envelope: domain.Envelope{
			Action:  domain.ActionAddToFriends,
			To:      "u1",
			Payload: json.RawMessage(`{}`),
		},
	})
	require.NoError(t, err)
	require.NoError(t, queue.Publish(consumer.DefaultActionsTopic, raw))

	state, err := srv.Friends().State(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFollowing, state)

	assert.NotEmpty(t, queue.GetMessages(action.DefaultEventsTopic), "change event published")
	assert.Contains(t, queue.GetKeys(action.DefaultEventsTopic), "u2")
}

func TestSQLiteBackendPersists(t *testing.T) {
	cfg := testConfig(t, BackendSQLite)
	ctx := context.Background()

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	_, err = srv.Friends().ApplyAction(ctx, "u1", domain.ActionFollow, "u2")
	require.NoError(t, err)
	require.NoError(t, srv.Shutdown())

	// 重启后关系从 sqlite 恢复
	srv, err = NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown() })

	state, err := srv.Friends().State(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFollower, state)
}

func TestRunUnknownMode(t *testing.T) {
	srv := newTestServer(t, BackendMemory)
	srv.config.Server.Mode = "grpc"

	err := srv.Run(context.Background())
	assert.ErrorContains(t, err, "unknown mode")
}
