// Package stubapi is a local stand-in for the remote extraction service. It
// serves a fixed media payload for every accepted URL and walks each job
// through processing to completed on successive status polls.
package stubapi

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"carbalite/internal/domain"
	"carbalite/internal/urlcheck"
)

// Options configures the stub.
type Options struct {
	// Media is returned by /download for every completed job.
	Media []byte
	// Filename is reported in the completed status.
	Filename string
	// Info is returned from /validate and attached to job status.
	Info domain.VideoMetadata
	// Steps is the number of processing polls before a job completes.
	Steps int
	// Failures maps a URL to the remote error message its job ends with.
	Failures map[string]string
	Logger   hclog.Logger
}

type task struct {
	url       string
	mediaType string
	polls     int
	status    domain.RemoteStatus
	message   string
}

// Server is the stub extraction API.
type Server struct {
	opts   Options
	logger hclog.Logger
	engine *gin.Engine

	mu    sync.Mutex
	tasks map[string]*task
}

type urlRequest struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// New builds the stub and registers its routes under /api.
func New(opts Options) *Server {
	if opts.Steps < 0 {
		opts.Steps = 0
	}
	if opts.Filename == "" {
		opts.Filename = "media.bin"
	}
	if opts.Info.Title == "" {
		opts.Info.Title = "Stub Media"
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		tasks:  make(map[string]*task),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	api := engine.Group("/api")
	api.GET("/health", s.health)
	api.POST("/validate", s.validate)
	api.POST("/extract", s.extract)
	api.GET("/status/:id", s.status)
	api.GET("/download/:id", s.download)
	s.engine = engine
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Len returns the number of jobs created so far.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "message": "Carba API is running"})
}

func (s *Server) validate(c *gin.Context) {
	req, ok := s.bindURL(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "info": s.opts.Info, "url": req.URL})
}

func (s *Server) extract(c *gin.Context) {
	req, ok := s.bindURL(c)
	if !ok {
		return
	}
	if req.Type != string(domain.MediaTypeAudio) && req.Type != string(domain.MediaTypeVideo) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid media type"})
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.tasks[id] = &task{
		url:       req.URL,
		mediaType: req.Type,
		status:    domain.RemoteStatusProcessing,
		message:   "Starting extraction...",
	}
	s.mu.Unlock()

	s.logger.Debug("task created", "task_id", id, "url", req.URL, "type", req.Type)
	c.JSON(http.StatusOK, gin.H{"task_id": id, "message": "Extraction started"})
}

func (s *Server) status(c *gin.Context) {
	s.mu.Lock()
	t, ok := s.tasks[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	s.advance(t)
	body := gin.H{
		"status":     t.status,
		"progress":   progressOf(t, s.opts.Steps),
		"message":    t.message,
		"video_info": s.opts.Info,
		"type":       t.mediaType,
	}
	if t.status == domain.RemoteStatusCompleted {
		body["filename"] = s.opts.Filename
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, body)
}

func (s *Server) download(c *gin.Context) {
	s.mu.Lock()
	t, ok := s.tasks[c.Param("id")]
	var status domain.RemoteStatus
	if ok {
		status = t.status
	}
	s.mu.Unlock()

	switch {
	case !ok:
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case status != domain.RemoteStatusCompleted:
		c.JSON(http.StatusBadRequest, gin.H{"error": "File not ready"})
	case len(s.opts.Media) == 0:
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
	default:
		c.Header("Content-Disposition", `attachment; filename="`+s.opts.Filename+`"`)
		c.Data(http.StatusOK, "application/octet-stream", s.opts.Media)
	}
}

// bindURL decodes {url} and applies the same URL rules as the real service.
func (s *Server) bindURL(c *gin.Context) (urlRequest, bool) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No URL provided"})
		return req, false
	}
	if !urlcheck.Supported(req.URL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid YouTube or SoundCloud URL"})
		return req, false
	}
	return req, true
}

// advance moves a task one poll forward. Callers hold s.mu.
func (s *Server) advance(t *task) {
	if t.status.IsTerminal() {
		return
	}
	t.polls++
	if t.polls <= s.opts.Steps {
		t.message = "Extracting media..."
		return
	}
	if msg, failed := s.opts.Failures[t.url]; failed {
		t.status = domain.RemoteStatusError
		t.message = msg
		return
	}
	t.status = domain.RemoteStatusCompleted
	t.message = "Extraction completed"
}

func progressOf(t *task, steps int) int {
	switch {
	case t.status == domain.RemoteStatusCompleted:
		return 100
	case steps == 0:
		return 0
	default:
		return 100 * (t.polls - 1) / steps
	}
}
