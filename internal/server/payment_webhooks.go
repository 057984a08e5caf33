package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	fulfillmentdomain "github.com/smallbiznis/courseaccess/internal/fulfillment/domain"
)

const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook hands the unmodified body to the fulfillment service;
// any re-encoding would invalidate the provider signature.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	ctx := c.Request.Context()

	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = ErrPayloadTooLarge
		} else {
			err = ErrInvalidRequest
		}
		s.obsMetrics.RecordWebhookResponse(ctx, provider, statusFor(err))
		AbortWithError(c, err)
		return
	}

	outcome, err := s.fulfillmentSvc.HandleWebhook(ctx, provider, payload, c.Request.Header)
	if err != nil {
		s.obsMetrics.RecordWebhookResponse(ctx, provider, statusFor(err))
		AbortWithError(c, err)
		return
	}

	status := "ok"
	if outcome != nil && outcome.Status == fulfillmentdomain.StatusIgnored {
		status = "ignored"
	}
	s.obsMetrics.RecordWebhookResponse(ctx, provider, http.StatusOK)
	c.JSON(http.StatusOK, gin.H{"status": status})
}
