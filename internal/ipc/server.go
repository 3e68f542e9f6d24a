package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"layerpaper/internal/manager"
	"layerpaper/internal/matcher"
)

// RequestTimeout bounds how long one request may wait on the daemon.
const RequestTimeout = 30 * time.Second

const replyOK = "ok"

// errPrefix marks a failed request in the reply.
const errPrefix = "error: "

// Handler executes requests. *manager.Manager implements it.
type Handler interface {
	ApplySetting(ctx context.Context, s matcher.Setting) error
	Reload(ctx context.Context, s matcher.Setting) error
	Preload(ctx context.Context, path string) error
	Unload(ctx context.Context, target string) error
	ListLoaded(ctx context.Context) ([]string, error)
	ListActive(ctx context.Context) ([]manager.Active, error)
}

// Server accepts requests on the daemon socket.
type Server struct {
	path string
	ln   net.Listener
	h    Handler

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// Listen creates the socket at path, replacing a stale one.
func Listen(path string, h Handler) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("create IPC socket: %w", err)
	}
	return &Server{path: path, ln: ln, h: h, closed: make(chan struct{})}, nil
}

// Serve accepts connections until ctx is cancelled or Close is called. Each connection is served on its
// own goroutine.
func (s *Server) Serve(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()

	log.Info("IPC socket listening", "path", s.path)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			// Listener closed, exit
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(RequestTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		log.Warn("reading IPC request", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	reply := s.handle(ctx, line)
	if _, err := io.WriteString(conn, reply); err != nil {
		log.Warn("writing IPC reply", "err", err)
	}
}

func (s *Server) handle(ctx context.Context, line string) string {
	req, err := ParseMessage(line)
	if err != nil {
		return errPrefix + err.Error()
	}
	log.Debug("IPC request", "command", req.Command, "monitor", req.Monitor, "path", req.Path)

	switch req.Command {
	case CmdWallpaper:
		err = s.h.ApplySetting(ctx, req.Setting())
	case CmdReload:
		err = s.h.Reload(ctx, req.Setting())
	case CmdPreload:
		err = s.h.Preload(ctx, req.Path)
	case CmdUnload:
		err = s.h.Unload(ctx, req.Path)
	case CmdListLoaded:
		paths, err := s.h.ListLoaded(ctx)
		if err != nil {
			return errPrefix + err.Error()
		}
		return strings.Join(paths, "\n")
	case CmdListActive:
		active, err := s.h.ListActive(ctx)
		if err != nil {
			return errPrefix + err.Error()
		}
		lines := make([]string, len(active))
		for i, a := range active {
			lines[i] = a.Monitor + " = " + a.Path
		}
		return strings.Join(lines, "\n")
	}
	if err != nil {
		return errPrefix + err.Error()
	}
	return replyOK
}

// Close stops accepting, waits for in-flight requests and removes the socket file.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.ln.Close()
		s.wg.Wait()
		os.Remove(s.path)
	})
	return err
}

// Send delivers one request and returns the reply. A reply reporting a failure is returned as an error.
func Send(ctx context.Context, path string, r Request) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return "", fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, FormatMessage(r)+"\n"); err != nil {
		return "", err
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return "", err
	}
	if msg, ok := strings.CutPrefix(string(reply), errPrefix); ok {
		return "", errors.New(msg)
	}
	return string(reply), nil
}
