package api

import (
	"errors"
	"io"
	"net/http"

	"kyte-estimates/internal/models"
	"kyte-estimates/internal/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// quickBooksWebhook reads the raw body first; the signature covers those
// exact bytes, so it must be verified before any decoding.
func (h *Handler) quickBooksWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read request body"})
		return
	}

	summary, err := h.services.Webhooks.Ingest(c.Request.Context(), c.GetHeader(webhook.SignatureHeader), body)
	if err != nil {
		var sigErr *models.SignatureError
		var validationErr *models.ValidationError
		switch {
		case errors.As(err, &sigErr):
			c.JSON(signatureStatus(sigErr.Reason), gin.H{"error": sigErr.Error()})
		case errors.As(err, &validationErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid webhook payload",
				"details": validationErr.Error(),
			})
		default:
			h.logger.Error("Webhook processing failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Webhook processing failed",
				"summary": summary,
			})
		}
		return
	}

	c.JSON(http.StatusOK, summary)
}

func signatureStatus(reason string) int {
	switch reason {
	case models.SignatureMissingSecret:
		return http.StatusInternalServerError
	case models.SignatureMissingHeader:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}
