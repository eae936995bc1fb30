package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type server struct {
	srv        *http.Server
	monitor    domain.MonitorUseCase
	sessions   domain.SessionUseCase
	accounts   domain.AccountUseCase
	world      domain.WorldUseCase
	peerHeader string
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

func New(addr string, peerHeader string, monitor domain.MonitorUseCase, sessions domain.SessionUseCase,
	accounts domain.AccountUseCase, world domain.WorldUseCase, logger *zap.Logger) *server {
	s := &server{
		monitor:    monitor,
		sessions:   sessions,
		accounts:   accounts,
		world:      world,
		peerHeader: peerHeader,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true /* peers authenticate with the session header */
			},
		},
		logger: logger,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthCheck)
	mux.HandleFunc("POST /login", s.login)
	mux.HandleFunc("POST /logout", s.withSession(s.logout))
	mux.HandleFunc("POST /password", s.withSession(s.changePassword))
	mux.HandleFunc("GET /host", s.withSession(s.host))
	mux.HandleFunc("POST /host", s.withSession(s.requestToHost))
	mux.HandleFunc("POST /host/events", s.withSession(s.report))
	mux.HandleFunc("GET /event", s.withSession(s.awaitEvent))
	mux.HandleFunc("GET /events", s.withSession(s.streamEvents))
	mux.HandleFunc("POST /dir-update", s.withSession(s.dirUpdate))
	mux.HandleFunc("GET /objects/{id}", s.withSession(s.getObject))
	mux.HandleFunc("PUT /objects/{id}", s.withSession(s.putObject))
	mux.HandleFunc("POST /saves", s.withSession(s.newSave))
	mux.HandleFunc("POST /saves/register", s.withSession(s.registerSave))
	mux.HandleFunc("POST /admin/set-save", s.adminOnly(s.setSave))
	mux.HandleFunc("POST /admin/dump-save", s.adminOnly(s.dumpSave))
	mux.HandleFunc("POST /admin/users", s.adminOnly(s.addUser))
	mux.HandleFunc("DELETE /admin/users/{name}", s.adminOnly(s.removeUser))
	mux.Handle("GET /metrics", s.adminOnly(promhttp.Handler().ServeHTTP))
	return mux
}

// Serve listens until ctx is done and then shuts the http server down.
func (s *server) Serve(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting listening address: " + s.srv.Addr)
		errChan <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errChan:
		return errors.WithMessage(err, "listen and serve")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Info("failed to shutdown http server: " + err.Error())
	}
	return ctx.Err()
}

func (s *server) String() string {
	return "http server " + s.srv.Addr
}
