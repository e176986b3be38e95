// Package api exposes the read-only HTTP surface: health, ledger
// queries, and submission status.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chainjudge/internal/store"
	"chainjudge/pkg/errors"
	"chainjudge/pkg/utils/logger"
)

// Config tunes the HTTP server.
type Config struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	Debug        bool          `yaml:"debug"`
}

// Server serves the judge's HTTP API.
type Server struct {
	cfg   Config
	store store.Store
	http  *http.Server
}

type response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, response{Code: errors.Success, Message: "ok", Data: data})
}

func fail(c *gin.Context, status int, err error) {
	code := errors.GetCode(err)
	c.JSON(status, response{Code: code, Message: code.Message()})
}

// NewServer builds the server and its routes.
func NewServer(cfg Config, st store.Store) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, store: st}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/submissions/:id", s.getSubmission)
	router.GET("/blocks", s.listBlocks)
	router.GET("/blocks/:height", s.getBlock)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server listening", zap.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		fail(c, http.StatusServiceUnavailable, errors.Wrap(err, errors.ServiceUnavailable))
		return
	}
	ok(c, gin.H{"status": "up"})
}

func (s *Server) getSubmission(c *gin.Context) {
	sub, err := s.store.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, errors.SubmissionNotFound) || errors.Is(err, errors.RecordNotFound) {
			fail(c, http.StatusNotFound, err)
			return
		}
		fail(c, http.StatusInternalServerError, err)
		return
	}
	// Source code stays private on the status surface.
	sub.SourceCode = ""
	ok(c, sub)
}

func (s *Server) getBlock(c *gin.Context) {
	height, err := strconv.ParseInt(c.Param("height"), 10, 64)
	if err != nil || height < 0 {
		fail(c, http.StatusBadRequest, errors.New(errors.InvalidParams))
		return
	}
	block, err := s.store.BlockByHeight(c.Request.Context(), height)
	if err != nil {
		if errors.Is(err, errors.RecordNotFound) {
			fail(c, http.StatusNotFound, err)
			return
		}
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, block)
}

const maxBlockPage = 100

// listBlocks serves both the height-range listing and single-block
// lookup by database ID (?id=N).
func (s *Server) listBlocks(c *gin.Context) {
	if rawID := c.Query("id"); rawID != "" {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			fail(c, http.StatusBadRequest, errors.New(errors.InvalidParams))
			return
		}
		block, err := s.store.BlockByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, errors.RecordNotFound) {
				fail(c, http.StatusNotFound, err)
				return
			}
			fail(c, http.StatusInternalServerError, err)
			return
		}
		ok(c, block)
		return
	}

	from, err1 := strconv.ParseInt(c.DefaultQuery("from", "0"), 10, 64)
	to, err2 := strconv.ParseInt(c.DefaultQuery("to", strconv.FormatInt(from+maxBlockPage-1, 10)), 10, 64)
	if err1 != nil || err2 != nil || from < 0 || to < from {
		fail(c, http.StatusBadRequest, errors.New(errors.InvalidParams))
		return
	}
	if to-from+1 > maxBlockPage {
		to = from + maxBlockPage - 1
	}
	blocks, err := s.store.BlocksByHeightRange(c.Request.Context(), from, to)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"from": from, "to": to, "blocks": blocks})
}
