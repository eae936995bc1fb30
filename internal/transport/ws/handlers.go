package ws

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/kiryu-dev/worldhost/pkg/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	maxJsonBodySize   = 64 << 20
	maxObjectBodySize = 1 << 30
)

// caller is the authenticated origin of a request.
type caller struct {
	sessionId string
	user      string
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, c caller)

func sessionId(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(domain.SessionHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("session"))
}

// withSession rejects requests without a live session.
func (s *server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessionId(r)
		user, err := s.sessions.User(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r, caller{sessionId: id, user: user})
	}
}

// peer is the caller's address, either from the configured proxy header or
// from the connection itself.
func (s *server) peer(r *http.Request) string {
	if s.peerHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(s.peerHeader)); v != "" {
			return v
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// adminOnly restricts a route to loopback callers.
func (s *server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer := s.peer(r)
		ip := net.ParseIP(peer)
		if ip == nil || !ip.IsLoopback() {
			s.logger.Warn("rejected administrative request", zap.String("peer", peer), zap.String("path", r.URL.Path))
			s.writeError(w, errors.WithMessage(domain.ErrUnauthorized, "administrative routes are loopback only"))
			return
		}
		next(w, r)
	}
}

func statusOf(kind domain.Kind) int {
	switch kind {
	case domain.KindExpired:
		return http.StatusUnauthorized
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindLagging:
		return http.StatusGone
	case domain.KindTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error) domain.ErrorResponse {
	kind := domain.KindOf(err)
	resp := domain.ErrorResponse{
		Kind:    kind,
		Reason:  domain.Reason(err),
		Message: err.Error(),
	}
	if kind == domain.KindInternal {
		resp.Message = "internal error"
	}
	return resp
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse(err)
	if resp.Kind == domain.KindInternal {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJson(w, statusOf(resp.Kind), resp)
}

func (s *server) writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoniter.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(err.Error())
	}
}

func decodeJson[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	v, err := utils.DecodeJson[T](http.MaxBytesReader(w, r.Body, maxJsonBodySize))
	if err != nil {
		return v, errors.WithMessage(domain.ErrBadRequest, err.Error())
	}
	return v, nil
}

func (s *server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, domain.HostResponse{State: s.monitor.State()})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJson[domain.LoginRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.accounts.Login(req.User, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, http.StatusOK, domain.LoginResponse{SessionId: id})
}

func (s *server) logout(w http.ResponseWriter, _ *http.Request, c caller) {
	s.sessions.Logout(c.sessionId)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) changePassword(w http.ResponseWriter, r *http.Request, c caller) {
	req, err := decodeJson[domain.ChangePasswordRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.accounts.ChangePassword(c.sessionId, req.OldPassword, req.NewPassword); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) host(w http.ResponseWriter, _ *http.Request, _ caller) {
	s.writeJson(w, http.StatusOK, domain.HostResponse{State: s.monitor.State()})
}

func (s *server) requestToHost(w http.ResponseWriter, r *http.Request, c caller) {
	req, err := decodeJson[domain.RequestToHostRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Port == 0 {
		s.writeError(w, errors.WithMessage(domain.ErrBadRequest, "port is required"))
		return
	}
	details := domain.HostDetails{Host: req.Domain, Port: req.Port}
	if details.Host == "" {
		details.Host = s.peer(r)
	}
	event := domain.HostEvent{Type: domain.RequestToHostEvent, Details: &details}
	if err := s.monitor.Submit(r.Context(), c.user, event); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("hosting requested", zap.String("host", details.Addr()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) report(w http.ResponseWriter, r *http.Request, c caller) {
	event, err := decodeJson[domain.HostEvent](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	switch event.Type {
	case domain.LoadingEvent, domain.LoadedEvent, domain.ShuttingDownEvent, domain.ShutDownEvent:
	default:
		s.writeError(w, errors.WithMessagef(domain.ErrBadRequest, "'%s' is not a lifecycle report", event.Type))
		return
	}
	event.Details = nil
	if err := s.monitor.Submit(r.Context(), c.user, event); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) awaitEvent(w http.ResponseWriter, r *http.Request, c caller) {
	event, err := s.sessions.AwaitEvent(r.Context(), c.sessionId)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJson(w, http.StatusOK, event)
}

// streamEvents pushes every event of the session over a websocket until the
// peer disconnects or the session ends.
func (s *server) streamEvents(w http.ResponseWriter, r *http.Request, c caller) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(err.Error())
		return
	}
	client := newClient(conn)
	defer client.Close()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go client.WatchClose(cancel)
	for {
		event, err := s.sessions.AwaitEvent(ctx, c.sessionId)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			resp := errorResponse(err)
			if err := client.WriteMessage(domain.EventMessage{Error: &resp}); err != nil {
				s.logger.Debug(err.Error())
			}
			return
		}
		if err := client.WriteMessage(domain.EventMessage{Event: &event}); err != nil {
			s.logger.Debug(err.Error())
			return
		}
	}
}

func (s *server) dirUpdate(w http.ResponseWriter, r *http.Request, _ caller) {
	req, err := decodeJson[domain.DirUpdateRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	update, err := s.world.GetUpdate(req.Dir)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, http.StatusOK, domain.DirUpdateResponse{Update: update})
}

func objectId(r *http.Request) (domain.ObjectId, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errors.WithMessagef(domain.ErrBadRequest, "object id '%s'", r.PathValue("id"))
	}
	return domain.ObjectId(id), nil
}

func (s *server) getObject(w http.ResponseWriter, r *http.Request, _ caller) {
	id, err := objectId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := s.world.GetObject(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Debug(err.Error())
	}
}

func (s *server) putObject(w http.ResponseWriter, r *http.Request, c caller) {
	id, err := objectId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxObjectBodySize))
	if err != nil {
		s.writeError(w, errors.WithMessage(domain.ErrBadRequest, err.Error()))
		return
	}
	if err := s.world.PutObject(r.Context(), c.user, id, data); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) newSave(w http.ResponseWriter, r *http.Request, c caller) {
	req, err := decodeJson[domain.DirUpdateRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	updates, err := s.world.NewSave(r.Context(), c.user, req.Dir)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, http.StatusOK, domain.NewSaveResponse{Updates: updates})
}

func (s *server) registerSave(w http.ResponseWriter, r *http.Request, c caller) {
	if err := s.world.RegisterSave(r.Context(), c.user); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) setSave(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJson[domain.DirRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.world.SetSave(r.Context(), req.Dir); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) dumpSave(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJson[domain.DirRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.world.DumpSave(r.Context(), req.Dir); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) addUser(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJson[domain.UserRequest](w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.accounts.AddUser(req.Name, req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *server) removeUser(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.RemoveUser(r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
