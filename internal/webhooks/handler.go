package webhooks

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for webhook subscriptions.
type Handler struct {
	svc        *Service
	adminToken string
	logger     *zap.Logger
}

// NewHandler creates a Handler. A non-empty adminToken must be presented as
// a bearer token on every route.
func NewHandler(svc *Service, adminToken string, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, adminToken: adminToken, logger: logger}
}

// Register registers all webhook routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	wh := rg.Group("/webhooks")
	wh.Use(h.requireAdmin())
	{
		wh.POST("", h.CreateSubscription)
		wh.GET("", h.ListSubscriptions)
		wh.DELETE("/:id", h.DeleteSubscription)
		wh.GET("/:id/deliveries", h.ListDeliveries)
	}
}

func (h *Handler) requireAdmin() gin.HandlerFunc {
	if h.adminToken == "" {
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(h.adminToken)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

// CreateSubscription handles POST /webhooks.
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.svc.Subscribe(c.Request.Context(), &req)
	if errors.Is(err, ErrUnknownEvent) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("create webhook subscription", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		return
	}

	// The secret is only ever returned here.
	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       sub.Secret,
	})
}

// ListSubscriptions handles GET /webhooks.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list webhook subscriptions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list subscriptions"})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// DeleteSubscription handles DELETE /webhooks/:id.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	id, ok := h.subscriptionID(c)
	if !ok {
		return
	}
	if err := h.svc.Unsubscribe(c.Request.Context(), id); err != nil {
		h.fail(c, "delete webhook subscription", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListDeliveries handles GET /webhooks/:id/deliveries?limit=N.
func (h *Handler) ListDeliveries(c *gin.Context) {
	id, ok := h.subscriptionID(c)
	if !ok {
		return
	}
	limit := 20
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxDeliveries {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxDeliveries)})
			return
		}
		limit = n
	}

	ds, err := h.svc.Deliveries(c.Request.Context(), id, limit)
	if err != nil {
		h.fail(c, "list webhook deliveries", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": ds})
}

func (h *Handler) subscriptionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg + " failed"})
}
