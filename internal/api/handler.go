package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"kyte-estimates/internal/catalog"
	"kyte-estimates/internal/models"
	"kyte-estimates/internal/service"
	"kyte-estimates/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CatalogCache is the part of the catalog the API refreshes
type CatalogCache interface {
	Invalidate(companyID string)
	Snapshot(ctx context.Context, companyID string) (*catalog.Index, error)
}

// ConversionQueue enqueues orders for the conversion worker
type ConversionQueue interface {
	PublishConversionRequested(ctx context.Context, companyID string, order models.Order) (string, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups what the handlers call. Queue and Customers may be nil.
type Services struct {
	Converter *service.Converter
	Matcher   *service.Matcher
	Catalog   CatalogCache
	Webhooks  *service.WebhookService
	Customers *service.CustomerMirror
	Queue     ConversionQueue
}

// Handler contains HTTP handlers
type Handler struct {
	services Services
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(services Services) *Handler {
	return &Handler{
		services: services,
		checks:   map[string]Pinger{},
		logger:   util.GetLogger().Named("api"),
	}
}

// AddReadinessCheck registers a dependency for /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/quickbooks", h.quickBooksWebhook)

	tenants := router.Group("/api/v1/tenants/:tenant")
	{
		tenants.POST("/conversions", h.convertOrders)
		tenants.POST("/conversions/async", h.enqueueOrders)
		tenants.GET("/conversions/:orderNumber", h.getConversionHistory)
		tenants.POST("/matches", h.matchOrder)
		tenants.POST("/catalog/refresh", h.refreshCatalog)
		tenants.GET("/customers/:id", h.getCustomer)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failures := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not ready",
			"failures": failures,
			"time":     time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// ConvertOrdersRequest is the body of a batch conversion
type ConvertOrdersRequest struct {
	Orders        []models.Order `json:"orders" binding:"required,min=1,dive"`
	SkipConverted bool           `json:"skip_converted"`
}

// convertOrders converts a batch synchronously, one result per order
func (h *Handler) convertOrders(c *gin.Context) {
	var req ConvertOrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	companyID := c.Param("tenant")
	var results []models.ConversionResult
	if req.SkipConverted {
		results = h.services.Converter.ConvertPending(c.Request.Context(), companyID, req.Orders)
	} else {
		results = h.services.Converter.ConvertBatch(c.Request.Context(), companyID, req.Orders)
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// EnqueueOrdersRequest is the body of an asynchronous conversion
type EnqueueOrdersRequest struct {
	Orders []models.Order `json:"orders" binding:"required,min=1,dive"`
}

// enqueueOrders hands orders to the conversion worker
func (h *Handler) enqueueOrders(c *gin.Context) {
	if h.services.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Asynchronous conversion is not configured"})
		return
	}

	var req EnqueueOrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	companyID := c.Param("tenant")
	queued := make([]gin.H, 0, len(req.Orders))
	for _, order := range req.Orders {
		order.OrderNumber = service.NormalizeOrderNumber(order.OrderNumber)
		if err := service.ValidateOrder(order); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":        "Invalid order",
				"order_number": order.OrderNumber,
				"details":      err.Error(),
			})
			return
		}
	}
	for _, order := range req.Orders {
		order.OrderNumber = service.NormalizeOrderNumber(order.OrderNumber)
		eventID, err := h.services.Queue.PublishConversionRequested(c.Request.Context(), companyID, order)
		if err != nil {
			h.logger.Error("Failed to enqueue conversion",
				zap.String("company_id", companyID),
				zap.String("order_number", order.OrderNumber),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to enqueue conversion",
				"details": err.Error(),
				"queued":  queued,
			})
			return
		}
		queued = append(queued, gin.H{"order_number": order.OrderNumber, "event_id": eventID})
	}

	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

// getConversionHistory returns the audit trail of one order
func (h *Handler) getConversionHistory(c *gin.Context) {
	companyID := c.Param("tenant")
	orderNumber := service.NormalizeOrderNumber(c.Param("orderNumber"))

	records, err := h.services.Converter.History(c.Request.Context(), companyID, orderNumber)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load conversion history",
			"details": err.Error(),
		})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No conversion attempts for order"})
		return
	}

	converted := false
	for _, r := range records {
		if r.Status == models.ConversionStatusSuccess {
			converted = true
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"order_number": orderNumber,
		"converted":    converted,
		"history":      records,
	})
}

// matchOrder previews how an order's lines resolve, without converting it
func (h *Handler) matchOrder(c *gin.Context) {
	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	matched, err := h.services.Matcher.Match(c.Request.Context(), c.Param("tenant"), order)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to match order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, matched)
}

// refreshCatalog drops the cached snapshot and loads a fresh one
func (h *Handler) refreshCatalog(c *gin.Context) {
	companyID := c.Param("tenant")
	h.services.Catalog.Invalidate(companyID)

	idx, err := h.services.Catalog.Snapshot(c.Request.Context(), companyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reload catalog",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"company_id": companyID,
		"products":   idx.Len(),
	})
}

// getCustomer returns one mirrored customer
func (h *Handler) getCustomer(c *gin.Context) {
	if h.services.Customers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Customer mirror is not configured"})
		return
	}

	customer, err := h.services.Customers.Get(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load customer",
			"details": err.Error(),
		})
		return
	}
	if customer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
		return
	}

	c.JSON(http.StatusOK, customer)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
