package action

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/memstore"
	"github.com/Zereker/social/internal/presence"
	"github.com/Zereker/social/internal/relationship"
	"github.com/Zereker/social/internal/schema"
	"github.com/Zereker/social/internal/view"
	"github.com/Zereker/social/pkg/mq"
)

// MockSink 用于测试的会话 sink，记录所有写入的帧
type MockSink struct {
	mu sync.Mutex

	SendFunc func(data []byte) error

	Frames [][]byte
	Closed bool
}

func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendFunc != nil {
		if err := m.SendFunc(data); err != nil {
			return err
		}
	}
	m.Frames = append(m.Frames, data)
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

type testFrame struct {
	Action  domain.Action   `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Events decodes every recorded frame.
func (m *MockSink) Events(t *testing.T) []testFrame {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]testFrame, 0, len(m.Frames))
	for _, data := range m.Frames {
		var f testFrame
		require.NoError(t, json.Unmarshal(data, &f))
		out = append(out, f)
	}
	return out
}

// Actions returns the actions of every recorded frame, in order.
func (m *MockSink) Actions(t *testing.T) []domain.Action {
	t.Helper()
	var out []domain.Action
	for _, f := range m.Events(t) {
		out = append(out, f.Action)
	}
	return out
}

// Last decodes the payload of the latest frame with action into v.
func (m *MockSink) Last(t *testing.T, action domain.Action, v any) {
	t.Helper()
	events := m.Events(t)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Action == action {
			require.NoError(t, json.Unmarshal(events[i].Payload, v))
			return
		}
	}
	t.Fatalf("no %s frame among %d frames", action, len(events))
}

func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames = nil
}

type testEnv struct {
	ctx      context.Context
	repo     *memstore.Store
	store    *relationship.Store
	presence *presence.Registry
	views    *view.Factory
	queue    *mq.InMemoryQueue
	friends  *Friends
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()

	repo := memstore.New()
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		repo.PutUser(domain.User{ID: id, Name: "name-" + id})
	}

	store := relationship.NewStore(repo, relationship.Options{})
	registry := presence.NewRegistry(repo, presence.Options{NodeID: "test"})
	views := view.NewFactory(store, registry, repo)
	queue := mq.NewInMemoryQueue()

	opts := Options{
		Store:    store,
		Views:    views,
		Presence: registry,
		Users:    repo,
		Schema:   schema.NewRegistry(),
		Queue:    queue,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	return &testEnv{
		ctx:      context.Background(),
		repo:     repo,
		store:    store,
		presence: registry,
		views:    views,
		queue:    queue,
		friends:  NewFriends(opts),
	}
}

// connect opens a session and clears the frames sent on connect.
func (e *testEnv) connect(t *testing.T, userID, sessionID string) *MockSink {
	t.Helper()
	sink := NewMockSink()
	require.NoError(t, e.friends.OnSessionConnect(e.ctx, userID, sessionID, sink))
	sink.Reset()
	return sink
}

func (e *testEnv) edgeKind(t *testing.T, a, b string) domain.EdgeKind {
	t.Helper()
	edge, err := e.friends.Edge(e.ctx, a, b)
	require.NoError(t, err)
	return domain.KindOf(edge)
}

func (e *testEnv) count(t *testing.T, userID string, category domain.Category) int {
	t.Helper()
	page, err := e.friends.GetView(e.ctx, userID, category, domain.PageRequest{})
	require.NoError(t, err)
	return page.Count
}
