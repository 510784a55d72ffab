package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/social/internal/action"
	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/memstore"
	"github.com/Zereker/social/internal/presence"
	"github.com/Zereker/social/internal/relationship"
	"github.com/Zereker/social/internal/view"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo := memstore.New()
	for _, id := range []string{"u1", "u2", "u3"} {
		repo.PutUser(domain.User{ID: id, Name: "name-" + id})
	}
	store := relationship.NewStore(repo, relationship.Options{})
	registry := presence.NewRegistry(repo, presence.Options{NodeID: "test"})
	friends := action.NewFriends(action.Options{
		Store:    store,
		Views:    view.NewFactory(store, registry, repo),
		Presence: registry,
		Users:    repo,
	})

	return NewServer(friends, ServerConfig{Name: "social", Version: "test"})
}

type rpcResponse struct {
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// exchange sends every request line and decodes one response per line written.
func exchange(t *testing.T, s *Server, lines ...string) []rpcResponse {
	t.Helper()

	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	require.NoError(t, s.Serve(context.Background(), in, &out))

	var responses []rpcResponse
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp rpcResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func callTool(name string, id int, args map[string]any) string {
	raw, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	return string(raw)
}

func toolText(t *testing.T, resp rpcResponse) (string, bool) {
	t.Helper()
	require.Nil(t, resp.Error)

	var result ToolCallResponse
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	return result.Content[0].Text, result.IsError
}

func TestServeHandshake(t *testing.T) {
	s := newTestServer(t)

	responses := exchange(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"nope"}`,
		`not json`,
	)
	require.Len(t, responses, 4)

	var init initializeResult
	require.NoError(t, json.Unmarshal(responses[0].Result, &init))
	assert.Equal(t, "social", init.ServerInfo.Name)

	var list toolsListResult
	require.NoError(t, json.Unmarshal(responses[1].Result, &list))
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"social_apply_action", "social_get_view", "social_presence"}, names)

	require.NotNil(t, responses[2].Error)
	assert.Equal(t, -32601, responses[2].Error.Code)

	require.NotNil(t, responses[3].Error)
	assert.Equal(t, -32700, responses[3].Error.Code)
}

func TestTools(t *testing.T) {
	s := newTestServer(t)

	responses := exchange(t, s,
		callTool("social_apply_action", 1, map[string]any{"user_id": "u1", "action": "follow", "peer_id": "u2"}),
		callTool("social_apply_action", 2, map[string]any{"user_id": "u2", "action": "accept", "peer_id": "u1"}),
		callTool("social_apply_action", 3, map[string]any{"user_id": "u1", "action": "follow", "peer_id": "u2"}),
		callTool("social_get_view", 4, map[string]any{"user_id": "u1", "category": "friends"}),
		callTool("social_presence", 5, map[string]any{"user_id": "u1", "peer_id": "u2"}),
		callTool("social_apply_action", 6, map[string]any{"user_id": "u1", "action": "poke", "peer_id": "u2"}),
		callTool("social_get_view", 7, map[string]any{"user_id": "u1", "category": "enemies"}),
		callTool("social_forget", 8, map[string]any{}),
	)
	require.Len(t, responses, 8)

	text, isErr := toolText(t, responses[1])
	assert.False(t, isErr)
	assert.Contains(t, text, "friend")

	_, isErr = toolText(t, responses[2])
	assert.True(t, isErr, "following a friend conflicts")

	text, isErr = toolText(t, responses[3])
	assert.False(t, isErr)
	assert.Contains(t, text, "name-u2 (u2)")

	text, isErr = toolText(t, responses[4])
	assert.False(t, isErr)
	assert.Contains(t, text, "- friends: 1")
	assert.Contains(t, text, "与 u2 的关系: friend")

	for _, resp := range responses[5:] {
		_, isErr := toolText(t, resp)
		assert.True(t, isErr)
	}
}

func TestServeProtocol(t *testing.T) {
	s := newTestServer(t)

	responses := exchange(t, s,
		`{"jsonrpc":"1.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":"init","method":"initialize","params":{"protocolVersion":"1999-01-01"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"arguments":{}}}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":2}}`,
	)
	require.Len(t, responses, 4)

	require.NotNil(t, responses[0].Error)
	assert.Equal(t, codeInvalidRequest, responses[0].Error.Code)

	assert.Nil(t, responses[1].Error)
	assert.JSONEq(t, `{}`, string(responses[1].Result))

	assert.Equal(t, "init", responses[2].ID)
	var init initializeResult
	require.NoError(t, json.Unmarshal(responses[2].Result, &init))
	assert.Equal(t, protocolVersions[0], init.ProtocolVersion, "unknown versions fall back to the default")
	assert.NotEmpty(t, init.Instructions)

	require.NotNil(t, responses[3].Error)
	assert.Equal(t, codeInvalidParams, responses[3].Error.Code)
}

func TestNegotiate(t *testing.T) {
	assert.Equal(t, "2024-11-05", negotiate("2024-11-05"))
	assert.Equal(t, protocolVersions[0], negotiate(""))
}

func TestServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := s.Serve(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}

func TestViewHugePage(t *testing.T) {
	s := newTestServer(t)

	responses := exchange(t, s,
		callTool("social_get_view", 1, map[string]any{"user_id": "u1", "category": "friends", "page": math.MaxInt64 / 10, "size": 20}),
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)
	require.Len(t, responses, 2)

	_, isErr := toolText(t, responses[0])
	assert.False(t, isErr)
	assert.Nil(t, responses[1].Error, "server keeps serving")
}

func TestServeRecoversPanic(t *testing.T) {
	s := newTestServer(t)
	s.methods["explode"] = func(context.Context, *jsonRPCRequest) (any, *Error) {
		panic("boom")
	}

	responses := exchange(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"explode"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)
	require.Len(t, responses, 2)

	require.NotNil(t, responses[0].Error)
	assert.Equal(t, codeInternalError, responses[0].Error.Code)
	assert.Nil(t, responses[1].Error)
}
