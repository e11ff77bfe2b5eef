package server

import (
	"crypto/tls"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/metrics"
	mon "github.com/tbnorth/tattle/internal/monitor"
)

// Router provides embeddable HTTP handlers around the liveness engine.
// Endpoints (under basePath):
//   POST /api/report     body: {tag, status?, message?}
//   POST /api/register   body: {tag, interval, description}
//   GET  /api/status     query: all=1 to include disabled processes
//   GET  /api/severity
//   GET  /api/show/:tag  query: n=<limit>
//   POST /api/archive    body: {keep}
//   POST /api/init
//   GET  /healthz
//   GET  /metrics        (when enabled)
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	mon      *mon.Monitor
	basePath string
	metrics  bool
}

// NewRouter constructs a Router with configurable basePath.
func NewRouter(m *mon.Monitor, basePath string, withMetrics bool) *Router {
	return &Router{mon: m, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	api := group.Group("/api")
	api.POST("/report", r.handleReport)
	api.POST("/register", r.handleRegister)
	api.GET("/status", r.handleStatus)
	api.GET("/severity", r.handleSeverity)
	api.GET("/show/:tag", r.handleShow)
	api.POST("/archive", r.handleArchive)
	api.POST("/init", r.handleInit)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, m *mon.Monitor, withMetrics bool) (*http.Server, error) {
	return NewServerTLS(addr, basePath, m, withMetrics, nil)
}

// NewServerTLS is NewServer with an optional TLS config; nil serves plain
// HTTP.
func NewServerTLS(addr, basePath string, m *mon.Monitor, withMetrics bool, tc *tls.Config) (*http.Server, error) {
	r := NewRouter(m, basePath, withMetrics)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tc != nil {
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type reportReq struct {
	Tag     string `json:"tag"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (r *Router) handleReport(c *gin.Context) {
	var req reportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Tag == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "tag required"})
		return
	}
	entry, err := r.mon.Accept(c.Request.Context(), mon.Report{
		Tag:     req.Tag,
		Status:  req.Status,
		Message: req.Message,
		Source:  c.ClientIP(),
	})
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, entry)
}

type registerReq struct {
	Tag         string `json:"tag"`
	Interval    string `json:"interval"` // seconds or compound shorthand
	Description string `json:"description"`
}

func (r *Router) handleRegister(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Tag == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "tag required"})
		return
	}
	interval, err := heartbeat.ParseInterval(req.Interval)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	p, err := r.mon.Register(c.Request.Context(), req.Tag, interval, req.Description)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (r *Router) handleStatus(c *gin.Context) {
	all := c.Query("all") == "1" || c.Query("all") == "true"
	statuses, err := r.mon.Statuses(c.Request.Context(), all)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, statuses)
}

func (r *Router) handleSeverity(c *gin.Context) {
	sev, err := r.mon.Severity(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"severity": sev})
}

func (r *Router) handleShow(c *gin.Context) {
	tag := c.Param("tag")
	n, _ := strconv.Atoi(c.DefaultQuery("n", "20"))
	entries, err := r.mon.Tail(c.Request.Context(), tag, n)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, entries)
}

type archiveReq struct {
	Keep int `json:"keep"`
}

func (r *Router) handleArchive(c *gin.Context) {
	var req archiveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Keep <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "keep must be positive"})
		return
	}
	res, err := r.mon.Archive(c.Request.Context(), req.Keep)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleInit(c *gin.Context) {
	changes, err := r.mon.InitSchema(c.Request.Context())
	msgs := make([]string, 0, len(changes))
	for _, ch := range changes {
		msgs = append(msgs, ch.String())
	}
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, gin.H{"error": err.Error(), "changes": msgs})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"changes": msgs})
}
