// Package server exposes the token proxy and the security-event receiver
// over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/proxy"
	"github.com/StricklySoft/auth-gateway/pkg/signals"
)

// ReceiverPath is where the transmitter posts security events.
const ReceiverPath = "/receiver"

// Defaults applied by New.
const (
	DefaultAddr              = ":8080"
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultMaxBodyBytes      = 1 << 20
)

// TokenProxy is satisfied by *proxy.Handler.
type TokenProxy interface {
	Handle(ctx context.Context, req proxy.Request) *proxy.Response
}

// Receiver is satisfied by *signals.Dispatcher.
type Receiver interface {
	Dispatch(ctx context.Context, body []byte) signals.Response
}

// Config controls the listener.
type Config struct {
	Addr              string        `yaml:"addr" env:"ADDR" envDefault:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

// Server routes POST /oauth2/token and POST /receiver. Every other route
// answers 404 {"message":"Not Found"}.
type Server struct {
	cfg    Config
	engine *gin.Engine
	http   *http.Server
	proxy  TokenProxy
	recv   Receiver
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and panic logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the routes. Nothing listens until Run or Serve.
func New(cfg Config, p TokenProxy, r Receiver, opts ...Option) (*Server, error) {
	if p == nil || r == nil {
		return nil, sserr.Configuration("server: token proxy and receiver are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{cfg: cfg, proxy: p, recv: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	e := gin.New()
	e.HandleMethodNotAllowed = false
	e.Use(recovery(s.logger), requestID(), accessLog(s.logger))
	e.Any(proxy.TokenPath, s.token)
	e.POST(ReceiverPath, s.receive)
	e.NoRoute(func(c *gin.Context) {
		writeProxyResponse(c, proxy.Message(http.StatusNotFound, proxy.MessageNotFound))
	})
	s.engine = e
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           e,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration, "server: listen on %s", s.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then drains in-flight requests for
// at most ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.InfoContext(ctx, "server: listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return sserr.Wrap(err, sserr.CodeInternal, "server: serve failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.InfoContext(shutdownCtx, "server: shutting down")
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return sserr.Wrap(err, sserr.CodeTimeout, "server: shutdown did not complete")
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) token(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		writeProxyResponse(c, proxy.Message(http.StatusBadRequest, proxy.MessageBadRequest))
		return
	}
	resp := s.proxy.Handle(c.Request.Context(), proxy.Request{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Header: c.Request.Header,
		Body:   body,
	})
	writeProxyResponse(c, resp)
}

func (s *Server) receive(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		writeProxyResponse(c, proxy.Message(http.StatusRequestEntityTooLarge, http.StatusText(http.StatusRequestEntityTooLarge)))
		return
	}
	resp := s.recv.Dispatch(c.Request.Context(), body)
	c.Data(resp.StatusCode, "application/json", resp.Body)
}

func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.logger.WarnContext(c.Request.Context(), "server: request body rejected", "error", err)
		return nil, false
	}
	return body, true
}

func writeProxyResponse(c *gin.Context, resp *proxy.Response) {
	h := c.Writer.Header()
	for name, value := range resp.Header {
		h.Set(name, value)
	}
	c.Status(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = c.Writer.Write(resp.Body)
	}
}
