package http

import (
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"room-reserve/internal/domain"
	"room-reserve/internal/service"
	"room-reserve/internal/storage"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	users        service.UserService
	reservations service.ReservationService
	sessions     *SessionManager
	storage      storage.Service
	bucket       string
	receiptsDir  string
	receiptsBase string
	staticDir    string
}

func NewHandler(users service.UserService, reservations service.ReservationService, sessions *SessionManager, store storage.Service, bucket, receiptsDir, receiptsBase, staticDir string) *Handler {
	return &Handler{
		users:        users,
		reservations: reservations,
		sessions:     sessions,
		storage:      store,
		bucket:       bucket,
		receiptsDir:  receiptsDir,
		receiptsBase: receiptsBase,
		staticDir:    staticDir,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	router.GET("/", h.index)
	router.GET("/login", h.loginPage)
	router.POST("/login", h.login)
	router.GET("/logout", h.logout)
	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	authed := router.Group("/", h.requireSession)
	{
		authed.POST("/reserve", h.reserve)
		authed.GET("/reservations", h.listReservations)
		authed.GET("/storage/objects", h.listObjects)
		authed.Static(h.receiptsBase, h.receiptsDir)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) index(c *gin.Context) {
	if _, err := h.actorFromRequest(c); err != nil {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	c.File(filepath.Join(h.staticDir, "index.html"))
}

func (h *Handler) loginPage(c *gin.Context) {
	c.File(filepath.Join(h.staticDir, "login.html"))
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "username and password are required"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusOK, gin.H{"success": false, "message": "invalid username or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "login failed"})
		return
	}

	token, err := h.sessions.Issue(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "login failed"})
		return
	}

	h.setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true, "redirect_url": "/"})
}

func (h *Handler) logout(c *gin.Context) {
	h.clearSessionCookie(c)
	c.Redirect(http.StatusFound, "/login")
}

type reserveRequest struct {
	StartTime string `json:"start_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
}

func (h *Handler) reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "start_time and end_time are required"})
		return
	}

	actor := currentActor(c)
	if _, err := h.reservations.Create(c.Request.Context(), actor, req.StartTime, req.EndTime); err != nil {
		switch {
		case errors.Is(err, service.ErrPermissionDenied):
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "you are not allowed to reserve"})
		case errors.Is(err, service.ErrMalformedTime), errors.Is(err, service.ErrInvalidTimeRange):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "reservation failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "reservation confirmed"})
}

// listObjects exposes the mirrored receipt objects to administrators.
func (h *Handler) listObjects(c *gin.Context) {
	if currentActor(c).Role != domain.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "admin only"})
		return
	}
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "storage service not configured"})
		return
	}

	prefix := c.Query("prefix")
	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, prefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "list objects failed"})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}

type ReservationResponse struct {
	ID         int64   `json:"id"`
	Username   string  `json:"username"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	Status     string  `json:"status"`
	ReceiptURL *string `json:"receipt_url"`
}

func (h *Handler) listReservations(c *gin.Context) {
	actor := currentActor(c)
	reservations, err := h.reservations.List(c.Request.Context(), actor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "list reservations failed"})
		return
	}

	resp := make([]ReservationResponse, len(reservations))
	for i := range reservations {
		resp[i] = h.reservationToResponse(reservations[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) reservationToResponse(res domain.Reservation) ReservationResponse {
	out := ReservationResponse{
		ID:        res.ID,
		Username:  res.Username,
		StartTime: res.StartTime.Format(domain.TimeLayout),
		EndTime:   res.EndTime.Format(domain.TimeLayout),
		Status:    string(res.Status),
	}
	if res.ReceiptPath != "" {
		url := h.receiptsBase + "/" + res.ReceiptPath
		out.ReceiptURL = &url
	}
	return out
}
