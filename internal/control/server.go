// Package control is the local control channel of the daemon: a unix socket
// carrying one JSON request and one JSON response per connection.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/darkware/zapretd/internal/orchestrator"
	"github.com/darkware/zapretd/internal/preset"
	zerr "github.com/darkware/zapretd/pkg/errors"
	"github.com/darkware/zapretd/pkg/logger"
	"github.com/darkware/zapretd/pkg/protocol"
)

// Controller is the supervisor surface exposed over the socket.
type Controller interface {
	Status() orchestrator.Status
	Toggle() error
	SetEngine(e preset.Engine) error
	SetStrategy(e preset.Engine, id preset.StrategyID) error
	PollOnce(ctx context.Context) error
	Wait(ctx context.Context) error
}

// Server accepts control connections on a unix socket.
type Server struct {
	socketPath  string
	ctl         Controller
	readTimeout time.Duration
	waitTimeout time.Duration
	log         logger.Logger

	wg sync.WaitGroup
}

// NewServer creates a Server for ctl on socketPath.
func NewServer(socketPath string, ctl Controller) *Server {
	return &Server{
		socketPath:  socketPath,
		ctl:         ctl,
		readTimeout: 5 * time.Second,
		waitTimeout: 2 * time.Minute,
		log:         logger.Log.With("component", "control"),
	}
}

// PrepareSocket creates the listening socket, replacing a stale one, and
// restricts it to the owner.
func (s *Server) PrepareSocket() (net.Listener, error) {
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(s.socketPath, 0o700); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// ListenAndServe serves until ctx is done, then removes the socket.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := s.PrepareSocket()
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts on l until ctx is done. In-flight requests are waited for.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.log.Info("Control socket listening", "socket", s.socketPath)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		l.Close()
	}()
	defer func() {
		close(stop)
		s.wg.Wait()
		os.Remove(s.socketPath)
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("Control accept failed", "err", err)
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	var req protocol.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.log.Debug("Control request unreadable", "err", err)
		s.reply(conn, zerr.New(zerr.ErrCodeInvalidIntent, "Decode", "malformed request", err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	s.log.Debug("Control request", "op", req.Op, "engine", req.Engine, "strategy", req.Strategy, "wait", req.Wait)
	s.reply(conn, s.dispatch(ctx, req))
}

// dispatch applies req and returns its error, if any.
func (s *Server) dispatch(ctx context.Context, req protocol.Request) error {
	var err error
	switch req.Op {
	case protocol.OpStatus, "":
		return nil

	case protocol.OpPoll:
		return s.ctl.PollOnce(ctx)

	case protocol.OpToggle:
		err = s.ctl.Toggle()

	case protocol.OpEngine:
		err = s.ctl.SetEngine(preset.Engine(req.Engine))

	case protocol.OpStrategy:
		engine := preset.Engine(req.Engine)
		if engine == "" {
			engine = s.ctl.Status().Engine
		}
		err = s.ctl.SetStrategy(engine, preset.StrategyID(req.Strategy))

	default:
		return zerr.New(zerr.ErrCodeInvalidIntent, "Dispatch", fmt.Sprintf("unknown op %q", req.Op), nil)
	}

	if err != nil || !req.Wait {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()
	return s.ctl.Wait(wctx)
}

func (s *Server) reply(conn net.Conn, err error) {
	resp := protocol.Response{OK: err == nil, Status: s.ctl.Status().View()}
	if err != nil {
		resp.Code = int(zerr.CodeOf(err))
		resp.Error = zerr.Short(err)
	}
	conn.SetWriteDeadline(time.Now().Add(s.readTimeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Debug("Control reply failed", "err", err)
	}
}

// Personal.AI order the ending
