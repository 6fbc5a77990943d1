// Package api wires up the Gin HTTP router fronting a FileStore-backed
// coreop.Repository — the convenience HTTP surface spec.md §1 treats
// as an external driver of the core operation interface, never a
// replacement for the wire-protocol traffic ActiveCluster and
// FlatGroupCoordinator use among themselves.
//
// Grounded on the teacher's internal/api/handlers.go Handler/Register
// shape: the KV routes become file routes. The cluster-management
// routes are not mounted by this Handler; cmd/filerepod mounts them
// (registerClusterRoutes) against a concrete *activecluster.Node.
package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/coreop"
	"github.com/kduvra/filerepo/internal/filestore"
)

// Handler holds the repository dependency injected from main.
type Handler struct {
	repo coreop.Repository
}

// NewHandler creates a Handler fronting repo.
func NewHandler(repo coreop.Repository) *Handler {
	return &Handler{repo: repo}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	files := r.Group("/files")
	files.GET("", h.List)
	files.GET("/:name", h.Get)
	files.PUT("/:name", h.Put)
	files.DELETE("/:name", h.Delete)
	files.GET("/:name/metadata", h.Metadata)
}

// ─── File handlers ─────────────────────────────────────────────────────────

// List handles GET /files
func (h *Handler) List(c *gin.Context) {
	entries, err := h.repo.List()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": entries})
}

// Get handles GET /files/:name
func (h *Handler) Get(c *gin.Context) {
	name := c.Param("name")

	data, err := h.repo.Read(name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// Put handles PUT /files/:name?mode=append|overwrite|create_new
// Body: raw file content.
func (h *Handler) Put(c *gin.Context) {
	name := c.Param("name")

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := parseMode(c.Query("mode"))
	if err := h.repo.Write(name, data, mode); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "bytes": len(data)})
}

// Delete handles DELETE /files/:name
func (h *Handler) Delete(c *gin.Context) {
	name := c.Param("name")

	if err := h.repo.Delete(name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

// Metadata handles GET /files/:name/metadata
func (h *Handler) Metadata(c *gin.Context) {
	name := c.Param("name")

	md, err := h.repo.Metadata(name)
	if err != nil {
		writeError(c, err)
		return
	}
	if md == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, md)
}

func parseMode(q string) filestore.WriteMode {
	switch q {
	case "append":
		return filestore.Append
	case "create_new":
		return filestore.CreateNew
	default:
		return filestore.Overwrite
	}
}

// writeError maps an apperror.Kind to the HTTP status the internal/client
// library expects, matching the teacher's error-to-JSON convention.
func writeError(c *gin.Context, err error) {
	appErr, ok := err.(*apperror.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	switch appErr.Kind {
	case apperror.NotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperror.InvalidArgument:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperror.WriteVerificationFailed:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
