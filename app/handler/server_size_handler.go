package handler

import (
	"context"
	"net/http"

	"workbench/pkg/store/mysql/model"

	"github.com/gin-gonic/gin"
)

// SizeStore is the slice of the server size repository the handler needs
type SizeStore interface {
	Create(ctx context.Context, size *model.ServerSize) error
	GetByName(ctx context.Context, name string) (*model.ServerSize, error)
	List(ctx context.Context) ([]*model.ServerSize, error)
}

// ServerSizeHandler exposes the size tier catalog
type ServerSizeHandler struct {
	sizes SizeStore
}

// NewServerSizeHandler creates a server size handler
func NewServerSizeHandler(sizes SizeStore) *ServerSizeHandler {
	return &ServerSizeHandler{sizes: sizes}
}

// List returns active size tiers, smallest first
func (h *ServerSizeHandler) List(c *gin.Context) {
	sizes, err := h.sizes.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sizes": sizes})
}

// Get returns one size tier by name
func (h *ServerSizeHandler) Get(c *gin.Context) {
	size, err := h.sizes.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if size == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "size not found"})
		return
	}
	c.JSON(http.StatusOK, size)
}

// CreateSizeRequest is the body of POST /sizes
type CreateSizeRequest struct {
	Name          string  `json:"name" binding:"required"`
	CPU           int     `json:"cpu" binding:"required"`
	Memory        int     `json:"memory" binding:"required"`
	CostPerSecond float64 `json:"cost_per_second"`
}

// Create registers a new size tier
func (h *ServerSizeHandler) Create(c *gin.Context) {
	var req CreateSizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	size := &model.ServerSize{
		Name:          req.Name,
		CPU:           req.CPU,
		Memory:        req.Memory,
		Active:        true,
		CostPerSecond: req.CostPerSecond,
	}
	if err := h.sizes.Create(c.Request.Context(), size); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, size)
}
