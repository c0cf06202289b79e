// Package relay serves the completion relay: it accepts a conversation as JSON
// or as a multipart form with file parts, forwards it to an upstream provider
// and re-emits the reply as a data: event stream.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lightchat/llm"
	"lightchat/utils"
)

const maxMultipartMemory = 32 << 20

// Options configures a Server.
type Options struct {
	Path           string
	RateLimitQPS   float64
	RateLimitBurst int
}

// Server is the relay HTTP service.
type Server struct {
	engine   *gin.Engine
	upstream llm.Provider
	logger   *utils.Logger
}

type chatBody struct {
	Messages []llm.Message `json:"messages"`
	Model    string        `json:"model"`
}

// NewServer creates a relay forwarding to upstream.
func NewServer(upstream llm.Provider, opts Options, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	if opts.Path == "" {
		opts.Path = "/api/chat"
	}

	s := &Server{
		engine:   gin.New(),
		upstream: upstream,
		logger:   logger,
	}
	s.engine.MaxMultipartMemory = maxMultipartMemory
	s.engine.Use(s.accessLog(), s.recovery())
	if opts.RateLimitQPS > 0 {
		s.engine.Use(RateLimit(NewIPRateLimiter(opts.RateLimitQPS, opts.RateLimitBurst)))
	}

	s.engine.POST(opts.Path, s.handleChat)
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "upstream": upstream.Name()})
	})
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Relay listening on %s, upstream %s", addr, s.upstream.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down relay: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleChat(c *gin.Context) {
	req, err := s.parseRequest(c)
	if err != nil {
		s.logger.Warn("Rejected relay request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"result": err.Error()})
		return
	}

	stream, err := s.upstream.StreamChat(c.Request.Context(), req)
	if err != nil {
		s.logger.Error("Error from upstream %s: %v", s.upstream.Name(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"result": "Error from upstream."})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	var streamErr error
	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-stream
		if !ok || chunk.Done {
			_ = llm.WriteDone(w)
			return false
		}
		if chunk.Error != nil {
			streamErr = chunk.Error
			return false
		}
		return llm.WriteEvent(w, chunk.Content) == nil
	})

	if streamErr != nil {
		s.logger.Error("Upstream stream failed: %v", streamErr)
		c.SSEvent("error", gin.H{"message": "Error from upstream."})
		c.Writer.Flush()
		// drop the connection so the client cannot mistake this for a clean end
		panic(http.ErrAbortHandler)
	}
}

// parseRequest reads the JSON or multipart body. For multipart bodies every
// image file declared on a message is resolved from the part named
// file_<name>_<index>.
func (s *Server) parseRequest(c *gin.Context) (llm.Request, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		var body chatBody
		if err := c.ShouldBindJSON(&body); err != nil {
			return llm.Request{}, fmt.Errorf("invalid body: %w", err)
		}
		return llm.Request{Model: body.Model, Messages: body.Messages}, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return llm.Request{}, fmt.Errorf("invalid multipart body: %w", err)
	}

	var req llm.Request
	req.Model = c.PostForm("model")
	if err := json.Unmarshal([]byte(c.PostForm("messages")), &req.Messages); err != nil {
		return llm.Request{}, fmt.Errorf("invalid messages field: %w", err)
	}

	for i := range req.Messages {
		for idx, f := range req.Messages[i].Files {
			if !f.IsImage() {
				continue
			}
			headers := form.File[llm.FileKey(f.Name, idx)]
			if len(headers) == 0 {
				continue
			}
			file, err := headers[0].Open()
			if err != nil {
				return llm.Request{}, fmt.Errorf("failed to open %s: %w", f.Name, err)
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				return llm.Request{}, fmt.Errorf("failed to read %s: %w", f.Name, err)
			}
			req.Messages[i].Files[idx].Data = data
		}
	}
	return req, nil
}

// recovery logs panics like utils.RecoverFromPanic and answers 500. An
// aborted handler is re-raised so net/http drops the connection.
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				if r == http.ErrAbortHandler {
					panic(r)
				}
				s.logger.Error("Panic recovered in relay handler: %v\nStack trace:\n%s", r, string(debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"result": "Internal error."})
			}
		}()
		c.Next()
	}
}

// accessLog writes one line per request. It runs outside recovery so it sees
// the 500 of a recovered panic, and logs aborted streams while the abort
// unwinds.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			entry := s.logger.WithField("client", c.ClientIP()).
				WithField("latency", time.Since(start).Round(time.Millisecond))
			if r := recover(); r != nil {
				entry.WithField("aborted", true).
					Warnf("%s %s %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
				panic(r)
			}
			entry.Infof("%s %s %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
		}()
		c.Next()
	}
}
