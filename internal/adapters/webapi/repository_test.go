package webapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoniter.NewEncoder(w).Encode(v)
}

func newStubServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var req domain.LoginRequest
		require.NoError(t, jsoniter.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			writeJson(w, http.StatusForbidden, domain.ErrorResponse{
				Kind:    domain.KindUnauthorized,
				Reason:  domain.ErrBadCredentials.Error(),
				Message: "bad credentials",
			})
			return
		}
		writeJson(w, http.StatusOK, domain.LoginResponse{SessionId: "sid-1"})
	})
	mux.HandleFunc("GET /host", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(domain.SessionHeader) != "sid-1" {
			writeJson(w, http.StatusUnauthorized, domain.ErrorResponse{Kind: domain.KindExpired, Message: "session expired"})
			return
		}
		writeJson(w, http.StatusOK, domain.HostResponse{State: domain.HostState{Phase: domain.Up, Version: 3}})
	})
	mux.HandleFunc("POST /host", func(w http.ResponseWriter, _ *http.Request) {
		writeJson(w, http.StatusConflict, domain.ErrorResponse{
			Kind:    domain.KindConflict,
			Reason:  domain.ErrHostTaken.Error(),
			Message: "a host is already registered",
		})
	})
	mux.HandleFunc("GET /objects/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("object " + r.PathValue("id")))
	})
	mux.HandleFunc("PUT /objects/{id}", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if string(data) != "payload" {
			writeJson(w, http.StatusConflict, domain.ErrorResponse{
				Kind:    domain.KindConflict,
				Reason:  domain.ErrHashMismatch.Error(),
				Message: "hash mismatch",
			})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /event", func(w http.ResponseWriter, _ *http.Request) {
		writeJson(w, http.StatusGone, domain.ErrorResponse{Kind: domain.KindLagging, Message: "lagging"})
	})
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(domain.EventMessage{Event: &domain.BroadcastEvent{Type: domain.HostLoaded}})
		_ = conn.WriteJSON(domain.EventMessage{Error: &domain.ErrorResponse{Kind: domain.KindLagging, Message: "lagging"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginAndHost(t *testing.T) {
	srv := newStubServer(t)
	repo := New(srv.URL + "/")
	ctx := context.Background()

	_, err := repo.Host(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	err = repo.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, domain.ErrBadCredentials)
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	require.NoError(t, repo.Login(ctx, "alice", "secret"))
	assert.Equal(t, "sid-1", repo.SessionId())
	state, err := repo.Host(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Up, state.Phase)
	assert.Equal(t, uint64(3), state.Version)
}

func TestErrorsKeepTheirReason(t *testing.T) {
	srv := newStubServer(t)
	repo := New(srv.URL)
	ctx := context.Background()

	err := repo.RequestToHost(ctx, "", 25565)
	assert.ErrorIs(t, err, domain.ErrHostTaken)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	err = repo.PutObject(ctx, 4, []byte("garbage"))
	assert.ErrorIs(t, err, domain.ErrHashMismatch)
	require.NoError(t, repo.PutObject(ctx, 4, []byte("payload")))

	_, err = repo.AwaitEvent(ctx)
	assert.ErrorIs(t, err, domain.ErrLagging)
}

func TestGetObject(t *testing.T) {
	srv := newStubServer(t)
	data, err := New(srv.URL).GetObject(context.Background(), 17)
	require.NoError(t, err)
	assert.Equal(t, "object 17", string(data))
}

func TestUnreachableServerIsTransient(t *testing.T) {
	srv := newStubServer(t)
	addr := srv.URL
	srv.Close()
	_, err := New(addr).Host(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindTransientIO, domain.KindOf(err))
}

func TestEvents(t *testing.T) {
	srv := newStubServer(t)
	var got []domain.BroadcastEventType
	err := New(srv.URL).Events(context.Background(), func(event domain.BroadcastEvent) error {
		got = append(got, event.Type)
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrLagging)
	assert.Equal(t, []domain.BroadcastEventType{domain.HostLoaded}, got)

	stop := errors.New("stop")
	err = New(srv.URL).Events(context.Background(), func(domain.BroadcastEvent) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}
