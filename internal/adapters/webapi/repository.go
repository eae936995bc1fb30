package webapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/kiryu-dev/worldhost/pkg/utils"
	"github.com/pkg/errors"
)

const (
	clientTimeout = 30 * time.Second

	loginEndpoint        = "/login"
	logoutEndpoint       = "/logout"
	passwordEndpoint     = "/password"
	hostEndpoint         = "/host"
	hostEventsEndpoint   = "/host/events"
	eventEndpoint        = "/event"
	eventsEndpoint       = "/events"
	dirUpdateEndpoint    = "/dir-update"
	objectsEndpoint      = "/objects/"
	savesEndpoint        = "/saves"
	registerSaveEndpoint = "/saves/register"
	setSaveEndpoint      = "/admin/set-save"
	dumpSaveEndpoint     = "/admin/dump-save"
	usersEndpoint        = "/admin/users"
)

// Repository talks to a world host server on behalf of one session.
type Repository struct {
	addr      string
	cli       *http.Client
	poll      *http.Client
	sessionId string
}

func New(addr string) *Repository {
	return &Repository{
		addr: strings.TrimSuffix(addr, "/"),
		cli:  &http.Client{Timeout: clientTimeout},
		// long polls are bounded by the caller's context
		poll: &http.Client{},
	}
}

func (r *Repository) SessionId() string {
	return r.sessionId
}

func (r *Repository) newRequest(ctx context.Context, method string, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.addr+endpoint, body)
	if err != nil {
		return nil, errors.WithMessagef(err, "new %s request", strings.ToLower(method))
	}
	if r.sessionId != "" {
		req.Header.Set(domain.SessionHeader, r.sessionId)
	}
	return req, nil
}

func (r *Repository) do(cli *http.Client, req *http.Request, out any) error {
	resp, err := cli.Do(req)
	if err != nil {
		return domain.TransientIO(errors.WithMessagef(err, "call http endpoint '%s'", req.URL.Path))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if data, ok := out.(*[]byte); ok {
		*data, err = io.ReadAll(resp.Body)
		if err != nil {
			return domain.TransientIO(errors.WithMessage(err, "read response body"))
		}
		return nil
	}
	if err := jsoniter.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WithMessage(err, "decode json response body")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, err := utils.DecodeJson[domain.ErrorResponse](resp.Body)
	if err != nil || body.Kind == "" {
		return errors.Errorf("unexpected response status '%s'", resp.Status)
	}
	return domain.ErrorOfKind(body.Kind, body.Reason, body.Message)
}

func (r *Repository) call(ctx context.Context, method string, endpoint string, in any, out any) error {
	body, err := utils.EncodeJson(in)
	if err != nil {
		return err
	}
	req, err := r.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return r.do(r.cli, req, out)
}

// Login opens a session and remembers its id for later calls.
func (r *Repository) Login(ctx context.Context, user string, password string) error {
	var resp domain.LoginResponse
	err := r.call(ctx, http.MethodPost, loginEndpoint, domain.LoginRequest{User: user, Password: password}, &resp)
	if err != nil {
		return errors.WithMessage(err, "login")
	}
	r.sessionId = resp.SessionId
	return nil
}

func (r *Repository) Logout(ctx context.Context) error {
	if err := r.call(ctx, http.MethodPost, logoutEndpoint, nil, nil); err != nil {
		return errors.WithMessage(err, "logout")
	}
	r.sessionId = ""
	return nil
}

func (r *Repository) ChangePassword(ctx context.Context, oldPassword string, newPassword string) error {
	req := domain.ChangePasswordRequest{OldPassword: oldPassword, NewPassword: newPassword}
	return errors.WithMessage(r.call(ctx, http.MethodPost, passwordEndpoint, req, nil), "change password")
}

func (r *Repository) Host(ctx context.Context) (domain.HostState, error) {
	var resp domain.HostResponse
	if err := r.call(ctx, http.MethodGet, hostEndpoint, nil, &resp); err != nil {
		return domain.HostState{}, errors.WithMessage(err, "get host")
	}
	return resp.State, nil
}

func (r *Repository) RequestToHost(ctx context.Context, hostDomain string, port uint16) error {
	req := domain.RequestToHostRequest{Domain: hostDomain, Port: port}
	return errors.WithMessage(r.call(ctx, http.MethodPost, hostEndpoint, req, nil), "request to host")
}

func (r *Repository) Report(ctx context.Context, event domain.HostEvent) error {
	return errors.WithMessagef(r.call(ctx, http.MethodPost, hostEventsEndpoint, event, nil), "report '%s'", event.Type)
}

// AwaitEvent long-polls for the next event of the session.
func (r *Repository) AwaitEvent(ctx context.Context) (domain.BroadcastEvent, error) {
	req, err := r.newRequest(ctx, http.MethodGet, eventEndpoint, nil)
	if err != nil {
		return domain.BroadcastEvent{}, err
	}
	var event domain.BroadcastEvent
	if err := r.do(r.poll, req, &event); err != nil {
		return domain.BroadcastEvent{}, errors.WithMessage(err, "await event")
	}
	return event, nil
}

// Events streams the session's events over a websocket and calls fn for each
// one until ctx is done, fn fails or the server ends the stream.
func (r *Repository) Events(ctx context.Context, fn func(domain.BroadcastEvent) error) error {
	u, err := url.Parse(r.addr + eventsEndpoint)
	if err != nil {
		return errors.WithMessage(err, "parse server address")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	header.Set(domain.SessionHeader, r.sessionId)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return decodeError(resp)
		}
		return domain.TransientIO(errors.WithMessage(err, "dial events"))
	}
	defer func() {
		_ = conn.Close()
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	for {
		msg := new(domain.EventMessage)
		if err := conn.ReadJSON(msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.TransientIO(errors.WithMessage(err, "read json msg"))
		}
		if msg.Error != nil {
			return domain.ErrorOfKind(msg.Error.Kind, msg.Error.Reason, msg.Error.Message)
		}
		if msg.Event == nil {
			continue
		}
		if err := fn(*msg.Event); err != nil {
			return err
		}
	}
}

func (r *Repository) DirUpdate(ctx context.Context, dir domain.DirContent) (domain.DirUpdate, error) {
	var resp domain.DirUpdateResponse
	if err := r.call(ctx, http.MethodPost, dirUpdateEndpoint, domain.DirUpdateRequest{Dir: dir}, &resp); err != nil {
		return nil, errors.WithMessage(err, "get dir update")
	}
	return resp.Update, nil
}

func objectEndpoint(id domain.ObjectId) string {
	return objectsEndpoint + strconv.FormatUint(uint64(id), 10)
}

func (r *Repository) GetObject(ctx context.Context, id domain.ObjectId) ([]byte, error) {
	req, err := r.newRequest(ctx, http.MethodGet, objectEndpoint(id), nil)
	if err != nil {
		return nil, err
	}
	var data []byte
	if err := r.do(r.poll, req, &data); err != nil {
		return nil, errors.WithMessagef(err, "get object %d", id)
	}
	return data, nil
}

func (r *Repository) PutObject(ctx context.Context, id domain.ObjectId, data []byte) error {
	req, err := r.newRequest(ctx, http.MethodPut, objectEndpoint(id), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return errors.WithMessagef(r.do(r.poll, req, nil), "put object %d", id)
}

func (r *Repository) NewSave(ctx context.Context, dir domain.DirContent) (domain.UpdateList, error) {
	var resp domain.NewSaveResponse
	if err := r.call(ctx, http.MethodPost, savesEndpoint, domain.DirUpdateRequest{Dir: dir}, &resp); err != nil {
		return nil, errors.WithMessage(err, "new save")
	}
	return resp.Updates, nil
}

func (r *Repository) RegisterSave(ctx context.Context) error {
	return errors.WithMessage(r.call(ctx, http.MethodPost, registerSaveEndpoint, nil, nil), "register save")
}

func (r *Repository) SetSave(ctx context.Context, dir string) error {
	return errors.WithMessage(r.call(ctx, http.MethodPost, setSaveEndpoint, domain.DirRequest{Dir: dir}, nil), "set save")
}

func (r *Repository) DumpSave(ctx context.Context, dir string) error {
	return errors.WithMessage(r.call(ctx, http.MethodPost, dumpSaveEndpoint, domain.DirRequest{Dir: dir}, nil), "dump save")
}

func (r *Repository) AddUser(ctx context.Context, name string, password string) error {
	req := domain.UserRequest{Name: name, Password: password}
	return errors.WithMessagef(r.call(ctx, http.MethodPost, usersEndpoint, req, nil), "add user '%s'", name)
}

func (r *Repository) RemoveUser(ctx context.Context, name string) error {
	endpoint := usersEndpoint + "/" + url.PathEscape(name)
	return errors.WithMessagef(r.call(ctx, http.MethodDelete, endpoint, nil, nil), "remove user '%s'", name)
}
