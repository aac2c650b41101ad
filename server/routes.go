// routes.go - HTTP-Server und Generate-Endpunkt
//
// Dieses Modul enthaelt:
// - Server mit Modell-Registry
// - GenerateRoutes: CORS, Request-IDs, API-Endpunkte
// - GenerateHandler mit NDJSON-Streaming
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/exp/rand"

	"github.com/wavegen/wavegen/api"
	"github.com/wavegen/wavegen/diffusion"
	"github.com/wavegen/wavegen/envconfig"
	"github.com/wavegen/wavegen/logutil"
	"github.com/wavegen/wavegen/tensor"
	"github.com/wavegen/wavegen/version"
)

const (
	defaultSteps    = 100
	defaultChannels = 2
	defaultSamples  = 65536
)

// Registry holds the models the server can sample from, keyed by name.
type Registry struct {
	mu     sync.RWMutex
	models map[string]diffusion.Model
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]diffusion.Model)}
}

func (r *Registry) Register(name string, m diffusion.Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = m
}

func (r *Registry) Get(name string) (diffusion.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

type Server struct {
	registry *Registry
}

func NewServer(registry *Registry) *Server {
	return &Server{registry: registry}
}

// requestIDMiddleware taggt jede Anfrage mit einer UUID fuers Log
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)

		start := time.Now()
		c.Next()

		slog.Info("request",
			"id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		requestIDMiddleware(),
	)

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "Wavegen is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Wavegen is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	r.GET("/api/tags", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": s.registry.Names()})
	})

	r.POST("/api/generate", s.GenerateHandler)

	return r
}

// GenerateHandler laeuft einen Sampling-Durchlauf und streamt Fortschritt
func (s *Server) GenerateHandler(c *gin.Context) {
	var req api.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	model, ok := s.registry.Get(req.Model)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("model %q not found", req.Model)})
		return
	}

	if req.Steps == 0 {
		req.Steps = defaultSteps
	}
	if req.Channels == 0 {
		req.Channels = defaultChannels
	}
	if req.Samples == 0 {
		req.Samples = defaultSamples
	}
	if req.Steps < 1 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "steps must be at least 1"})
		return
	}

	var solver diffusion.Solver
	if req.Solver != "" && req.Solver != "ddim" {
		var err error
		solver, err = diffusion.ParseSolver(req.Solver)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var init, mask *tensor.Array
	if req.Init != "" {
		var err error
		init, err = api.DecodeSignal(req.Init, req.Channels, req.Samples)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("init: %s", err)})
			return
		}
	}
	if req.Mask != "" {
		if init == nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mask requires init"})
			return
		}
		var err error
		mask, err = api.DecodeSignal(req.Mask, req.Channels, req.Samples)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("mask: %s", err)})
			return
		}
	}

	seed := req.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewSource(seed)

	stream := req.Stream == nil || *req.Stream
	ch := make(chan any)

	go func() {
		defer close(ch)

		progress := func(step, total int) {
			if stream {
				ch <- api.GenerateResponse{Model: req.Model, Step: step, Total: total}
			}
		}

		var out *tensor.Array
		var err error
		if req.Solver == "ddim" {
			noise := tensor.RandomNormal(src, req.Channels, req.Samples)
			out, err = diffusion.SampleDDIM(model, noise, diffusion.DDIMConfig{
				Steps:    req.Steps,
				Eta:      req.Eta,
				Src:      src,
				Progress: progress,
			})
		} else {
			noise := tensor.RandomNormal(src, req.Channels, req.Samples)
			out, err = diffusion.SampleSolver(model, noise, diffusion.SolverConfig{
				Solver:   solver,
				Steps:    req.Steps,
				SigmaMin: req.SigmaMin,
				SigmaMax: req.SigmaMax,
				Rho:      req.Rho,
				Init:     init,
				Mask:     mask,
				Src:      src,
				Progress: progress,
			})
		}
		if err != nil {
			slog.Error("generate failed", "model", req.Model, "error", err)
			ch <- api.StatusError{StatusCode: http.StatusInternalServerError, ErrorMessage: err.Error()}
			return
		}

		ch <- api.GenerateResponse{
			Model:    req.Model,
			Step:     req.Steps,
			Total:    req.Steps,
			Done:     true,
			Signal:   api.EncodeSignal(out),
			Channels: req.Channels,
			Samples:  req.Samples,
		}
	}()

	if !stream {
		waitForStream(c, ch)
		return
	}

	streamResponse(c, ch)
}

// waitForStream drains the channel and answers with the final response, or
// with the error's status when generation failed.
func waitForStream(c *gin.Context, ch chan any) {
	var final api.GenerateResponse
	for resp := range ch {
		switch r := resp.(type) {
		case api.StatusError:
			c.JSON(r.StatusCode, gin.H{"error": r.Error()})
			return
		case api.GenerateResponse:
			final = r
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("unexpected response type %T", resp)})
			return
		}
	}
	c.JSON(http.StatusOK, final)
}

func streamResponse(c *gin.Context, ch chan any) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Stream(func(w io.Writer) bool {
		val, ok := <-ch
		if !ok {
			return false
		}

		if e, ok := val.(api.StatusError); ok {
			val = gin.H{"error": e.Error()}
		}

		bts, err := json.Marshal(val)
		if err != nil {
			slog.Error("streamResponse: json.Marshal failed", "error", err)
			return false
		}

		bts = append(bts, '\n')
		if _, err := w.Write(bts); err != nil {
			slog.Error("streamResponse: w.Write failed", "error", err)
			return false
		}

		return true
	})
}

// Serve richtet den Default-Logger ein und bedient Anfragen auf ln
func Serve(ln net.Listener, registry *Registry) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	s := &Server{registry: registry}
	h := s.GenerateRoutes()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	srvr := &http.Server{Handler: h}

	if err := srvr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
