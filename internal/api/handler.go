package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/service"
)

// maxWebhookBody bounds the size of an event callback body
const maxWebhookBody = 1 << 20

// Relay is the part of the orchestrator the HTTP API exposes
type Relay interface {
	Status() service.Status
	HandleInboundWebhook(ctx context.Context, req service.WebhookRequest) (service.WebhookResponse, error)
	WasSentByUs(ctx context.Context, workspace, channel, ts string) (bool, error)
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	service.Status
	Desktop service.DesktopStatus `json:"desktop"`
}

// Server serves health, status and the platform event callbacks
type Server struct {
	relay  Relay
	addr   string
	log    zerolog.Logger
	engine *gin.Engine

	server   *http.Server
	listener net.Listener
}

// NewServer creates the HTTP API server for relay
func NewServer(relay Relay, addr string, log zerolog.Logger) *Server {
	s := &Server{
		relay: relay,
		addr:  addr,
		log:   log.With().Str("component", "api").Logger(),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", s.handleStatus)
	r.GET("/sent", s.handleSent)

	r.POST("/slack/events/:workspace", s.handleEvents(domain.PlatformSlack))
	r.POST("/lark/events/:workspace", s.handleEvents(domain.PlatformLark))
	return r
}

// Listen binds the listen address and returns the bound port
func (s *Server) Listen() (int, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return 0, err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Serve serves on the bound listener until Stop
func (s *Server) Serve() error {
	if s.server == nil {
		return errors.New("api server is not listening")
	}
	s.log.Info().Str("addr", s.listener.Addr().String()).Msg("Starting HTTP server")
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.relay.Status()
	c.JSON(http.StatusOK, StatusResponse{Status: st, Desktop: st.Desktop()})
}

func (s *Server) handleSent(c *gin.Context) {
	workspace := c.Query("workspace")
	channel := c.Query("channel")
	ts := c.Query("ts")
	if workspace == "" || channel == "" || ts == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace, channel and ts are required"})
		return
	}

	sent, err := s.relay.WasSentByUs(c.Request.Context(), workspace, channel, ts)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent})
}

func (s *Server) handleEvents(platform domain.Platform) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		resp, err := s.relay.HandleInboundWebhook(c.Request.Context(), service.WebhookRequest{
			Workspace: c.Param("workspace"),
			Platform:  platform,
			Header:    c.Request.Header,
			Body:      body,
		})
		if err != nil {
			s.abort(c, err)
			return
		}
		if resp.Challenge != "" {
			c.JSON(http.StatusOK, resp)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (s *Server) abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrWebhookVerification):
		s.log.Warn().Err(err).Str("path", c.FullPath()).Msg("Rejected webhook")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
	case errors.Is(err, service.ErrUnknownWorkspace):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
