package sdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, code int, msg string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Response{Code: code, Msg: msg, Data: raw})
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, WithToken("tok"))
	require.NoError(t, err)
	return c
}

func TestClient_ListConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversation/list", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("page_size"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeEnvelope(t, w, CodeSuccess, "success", ConversationPageResponse{
			Conversations: []*ConversationInfo{{ConversationId: "si_u___1:u___2", UnreadCount: 3, IsFavorite: true}},
			Page:          2,
			PageSize:      10,
			HasMore:       true,
		})
	})

	page, err := c.ListConversations(context.Background(), 2, 10)
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, int64(3), page.Conversations[0].UnreadCount)
	assert.True(t, page.Conversations[0].IsFavorite)
	assert.True(t, page.HasMore)
}

func TestClient_SetConversationFavorite(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/conversation/update", r.URL.Path)
		assert.Equal(t, "si_u___1:u___2", r.URL.Query().Get("conversation_id"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"is_favorite":true}`, string(body))
		writeEnvelope(t, w, CodeSuccess, "success", nil)
	})

	require.NoError(t, c.SetConversationFavorite(context.Background(), "si_u___1:u___2", true))
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, CodeTokenExpired, "token expired", nil)
	})

	err := c.MarkRead(context.Background(), "si_u___1:u___2", 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, CodeTokenExpired, CodeOf(err))
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	err = c.MarkRead(context.Background(), "si_u___1:u___2", 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, -1, CodeOf(err))

	// an answered request is not a transport failure
	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, CodeInternalServer, "boom", nil)
	})
	err = c.MarkRead(context.Background(), "si_u___1:u___2", 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransport)
}

func TestClient_LoginStoresToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u___1", req.UserId)
		writeEnvelope(t, w, CodeSuccess, "success", LoginResponse{Token: "fresh", UserInfo: &UserInfo{Id: "u___1"}})
	})

	resp, err := c.LoginWithUserId(context.Background(), "u___1", "secret", 5)
	require.NoError(t, err)
	assert.Equal(t, "fresh", resp.Token)
	assert.Equal(t, "fresh", c.GetToken())
}
