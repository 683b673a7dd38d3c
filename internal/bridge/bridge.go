package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/netwarden/netwarden/internal/event"
	"github.com/netwarden/netwarden/internal/installer"
	"github.com/netwarden/netwarden/internal/metrics"
	"github.com/netwarden/netwarden/internal/supervisor"
)

// The presentation layer runs page content: the only host capabilities it can
// reach are the routes registered under the bridge group, and those dispatch
// exclusively through the operations below. No generic pass-through exists.
//
//	subscribe          GET    {base}/bridge/events/:channel   (SSE, allowlisted channels only)
//	removeAllListeners DELETE {base}/bridge/events/:channel
//	getAppVersion      GET    {base}/bridge/version
//	showMessageBox     POST   {base}/bridge/dialog
//
// The control group is the trusted menu surface and is mounted separately.

// DialogOptions mirrors the native message-box options the presentation
// layer may request.
type DialogOptions struct {
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Detail    string   `json:"detail"`
	Buttons   []string `json:"buttons"`
	DefaultID int      `json:"default_id"`
}

// Dialoguer renders a message box and returns the index of the chosen
// button. Headless hosts answer with the default button.
type Dialoguer interface {
	Show(opts DialogOptions) (int, error)
}

// Bridge mediates between the sandboxed presentation layer and the host.
type Bridge struct {
	sup      *supervisor.Supervisor
	inst     *installer.Installer
	dialog   Dialoguer
	version  string
	basePath string
	logger   *slog.Logger
}

func New(sup *supervisor.Supervisor, inst *installer.Installer, dialog Dialoguer, version, basePath string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		sup:      sup,
		inst:     inst,
		dialog:   dialog,
		version:  version,
		basePath: sanitizeBase(basePath),
		logger:   logger,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (b *Bridge) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	b.Mount(g)
	return g
}

// Mount attaches the bridge and control groups to an existing gin router.
func (b *Bridge) Mount(r gin.IRouter) {
	root := r.Group(b.basePath)

	sandbox := root.Group("/bridge")
	sandbox.GET("/events/:channel", b.handleSubscribe)
	sandbox.DELETE("/events/:channel", b.handleRemoveAll)
	sandbox.GET("/version", b.handleVersion)
	sandbox.POST("/dialog", b.handleDialog)

	control := root.Group("/control")
	control.GET("/status", b.handleStatus)
	control.POST("/start", b.handleStart)
	control.POST("/stop", b.handleStop)
	control.POST("/restart", b.handleRestart)
	control.POST("/install", b.handleInstall)
	control.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// NewServer starts a standalone HTTP server on addr serving the bridge.
func NewServer(addr string, b *Bridge) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// handleSubscribe streams one allowlisted lifecycle channel as server-sent
// events until the client disconnects or the channel's listeners are removed.
func (b *Bridge) handleSubscribe(c *gin.Context) {
	ch := event.Channel(c.Param("channel"))
	if !ch.Valid() {
		c.JSON(http.StatusForbidden, errorResp{Error: "channel not allowlisted: " + string(ch)})
		return
	}
	sub, err := b.sup.Bus().Subscribe(ch)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	defer b.sup.Bus().Unsubscribe(ch, sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			c.SSEvent(string(ch), e)
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (b *Bridge) handleRemoveAll(c *gin.Context) {
	ch := event.Channel(c.Param("channel"))
	if !ch.Valid() {
		c.JSON(http.StatusForbidden, errorResp{Error: "channel not allowlisted: " + string(ch)})
		return
	}
	b.sup.Bus().RemoveAll(ch)
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (b *Bridge) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": b.version})
}

func (b *Bridge) handleDialog(c *gin.Context) {
	var opts DialogOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if b.dialog == nil {
		c.JSON(http.StatusOK, gin.H{"response": opts.DefaultID})
		return
	}
	choice, err := b.dialog.Show(opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": choice})
}

func (b *Bridge) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, b.sup.Status())
}

func (b *Bridge) handleStart(c *gin.Context) {
	if err := b.sup.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (b *Bridge) handleStop(c *gin.Context) {
	if err := b.sup.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (b *Bridge) handleRestart(c *gin.Context) {
	if err := b.sup.Restart(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

// handleInstall is fire-and-forget: the outcome reaches the user through the
// notifier dialog, not this response.
func (b *Bridge) handleInstall(c *gin.Context) {
	if b.inst == nil {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "installer not configured"})
		return
	}
	// Detached from the request context: the install outlives this response.
	go func() {
		if err := b.inst.Install(context.Background()); err != nil {
			b.logger.Warn("dependency install failed", "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, okResp{OK: true})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
