package handler

import (
	"context"
	"net/http"
	"time"

	"workbench/internal/service"
	"workbench/pkg/logger"
	queue "workbench/pkg/queue/asynq"
	"workbench/pkg/spawner"
	"workbench/pkg/store/mysql/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ServerLifecycle is the slice of the server service the handler calls
type ServerLifecycle interface {
	Create(ctx context.Context, server *model.Server) error
	Get(ctx context.Context, serverID string) (*model.Server, error)
	List(ctx context.Context, ownerID string) ([]*model.Server, error)
	Runs(ctx context.Context, serverID string, limit int) ([]*model.ServerRunStatistics, error)
	Status(ctx context.Context, serverID string) (spawner.Status, error)
	StartAndWait(ctx context.Context, serverID string) (bool, error)
}

// Enqueuer dispatches lifecycle verbs onto the task queue
type Enqueuer interface {
	EnqueueServerTask(ctx context.Context, taskType, serverID string) error
}

// StateTracker is the ephemeral per-server state store
type StateTracker interface {
	UpdateMessage(ctx context.Context, serverID string) (string, error)
	SetUpdateMessage(ctx context.Context, serverID, msg string) error
	ClearUpdateMessage(ctx context.Context, serverID string) error
}

// SizeCatalog resolves size tier names on server creation
type SizeCatalog interface {
	GetByName(ctx context.Context, name string) (*model.ServerSize, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServerHandler exposes the server lifecycle over HTTP. Lifecycle verbs are
// asynchronous: the handler enqueues and returns 202, the queue worker does
// the provider work.
type ServerHandler struct {
	svc   ServerLifecycle
	queue Enqueuer
	state StateTracker
	sizes SizeCatalog
}

// NewServerHandler creates a server handler
func NewServerHandler(svc ServerLifecycle, queue Enqueuer, state StateTracker, sizes SizeCatalog) *ServerHandler {
	return &ServerHandler{svc: svc, queue: queue, state: state, sizes: sizes}
}

// CreateServerRequest is the body of POST /servers
type CreateServerRequest struct {
	Name       string                 `json:"name" binding:"required"`
	OwnerID    string                 `json:"owner_id" binding:"required"`
	ProjectID  string                 `json:"project_id" binding:"required"`
	Image      string                 `json:"image" binding:"required"`
	ServerSize string                 `json:"server_size" binding:"required"`
	VolumePath string                 `json:"volume_path"`
	Config     map[string]interface{} `json:"config"`
}

// Create registers a new server record
func (h *ServerHandler) Create(c *gin.Context) {
	var req CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	size, err := h.sizes.GetByName(c.Request.Context(), req.ServerSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if size == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown server size: " + req.ServerSize})
		return
	}

	server := &model.Server{
		Name:         req.Name,
		OwnerID:      req.OwnerID,
		ProjectID:    req.ProjectID,
		Image:        req.Image,
		ServerSizeID: size.ID,
		VolumePath:   req.VolumePath,
		Config:       req.Config,
	}
	if err := h.svc.Create(c.Request.Context(), server); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, server)
}

// List returns an owner's active servers
func (h *ServerHandler) List(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}
	servers, err := h.svc.List(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

// Get returns one server
func (h *ServerHandler) Get(c *gin.Context) {
	server, err := h.svc.Get(c.Request.Context(), c.Param("server_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

// Start enqueues a server start
func (h *ServerHandler) Start(c *gin.Context) {
	h.enqueue(c, queue.TypeServerStart)
}

// Stop enqueues a server stop
func (h *ServerHandler) Stop(c *gin.Context) {
	h.enqueue(c, queue.TypeServerStop)
}

// Terminate enqueues a server terminate
func (h *ServerHandler) Terminate(c *gin.Context) {
	h.enqueue(c, queue.TypeServerTerminate)
}

func (h *ServerHandler) enqueue(c *gin.Context, taskType string) {
	serverID := c.Param("server_id")

	// Fail fast on unknown servers instead of queueing a doomed task
	if _, err := h.svc.Get(c.Request.Context(), serverID); err != nil {
		h.renderError(c, err)
		return
	}
	if err := h.queue.EnqueueServerTask(c.Request.Context(), taskType, serverID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"server_id": serverID, "task": taskType, "status": "queued"})
}

// Status reports the provider-observed lifecycle state
func (h *ServerHandler) Status(c *gin.Context) {
	status, err := h.svc.Status(c.Request.Context(), c.Param("server_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Runs returns recent run history
func (h *ServerHandler) Runs(c *gin.Context) {
	runs, err := h.svc.Runs(c.Request.Context(), c.Param("server_id"), 50)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// LaunchRequest is the body of POST /lti/launch
type LaunchRequest struct {
	ServerID string `json:"server_id" binding:"required"`
}

// Launch starts a server and waits until it is running, for callers that
// need a synchronous answer (e.g. courseware redirects). Responds 200 with
// ready=false when the server did not come up inside the deadline.
func (h *ServerHandler) Launch(c *gin.Context) {
	var req LaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ready, err := h.svc.StartAndWait(c.Request.Context(), req.ServerID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": req.ServerID, "ready": ready})
}

// GetUpdateMessage reads the pending update message, empty when none
func (h *ServerHandler) GetUpdateMessage(c *gin.Context) {
	msg, err := h.state.UpdateMessage(c.Request.Context(), c.Param("server_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// PutUpdateMessageRequest is the body of PUT update-message
type PutUpdateMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// PutUpdateMessage flags the server as needing an update
func (h *ServerHandler) PutUpdateMessage(c *gin.Context) {
	var req PutUpdateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.state.SetUpdateMessage(c.Request.Context(), c.Param("server_id"), req.Message); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeleteUpdateMessage clears the pending update message
func (h *ServerHandler) DeleteUpdateMessage(c *gin.Context) {
	if err := h.state.ClearUpdateMessage(c.Request.Context(), c.Param("server_id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Watch streams the server status over a websocket until it settles in a
// terminal state or the client disconnects.
func (h *ServerHandler) Watch(c *gin.Context) {
	serverID := c.Param("server_id")
	if _, err := h.svc.Get(c.Request.Context(), serverID); err != nil {
		h.renderError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WarnCtx(c.Request.Context(), "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close is noticed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		status, err := h.svc.Status(c.Request.Context(), serverID)
		if err != nil {
			conn.WriteJSON(gin.H{"error": err.Error()})
			return
		}
		if err := conn.WriteJSON(gin.H{"server_id": serverID, "status": status}); err != nil {
			return
		}
		if status != spawner.StatusPending {
			return
		}
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *ServerHandler) renderError(c *gin.Context, err error) {
	if err == service.ErrServerNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
