package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/jmehdipour/notify-gateway/internal/model"
	"github.com/jmehdipour/notify-gateway/internal/publisher"
	"github.com/jmehdipour/notify-gateway/internal/service/notify"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type notificationReq struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Type        string   `json:"type"`     // "SystemWide" | "UserSpecific" | "Group"
	Category    string   `json:"category"` // "Update" | "Offer" | "Alert"
	Channels    []string `json:"channels"`
	TargetUsers []string `json:"target_users"`
}

// envelope parses enum names leniently. Unparseable names are passed
// through as-is so validation reports them in its usual order.
func (r notificationReq) envelope() model.Envelope {
	e := model.Envelope{
		Title:       r.Title,
		Body:        r.Body,
		Type:        model.NotificationType(r.Type),
		Category:    model.Category(r.Category),
		TargetUsers: r.TargetUsers,
	}
	if t, ok := model.ParseNotificationType(r.Type); ok {
		e.Type = t
	}
	if c, ok := model.ParseCategory(r.Category); ok {
		e.Category = c
	}
	for _, s := range r.Channels {
		ch, ok := model.ParseChannel(s)
		if !ok {
			ch = model.Channel(s)
		}
		e.Channels = append(e.Channels, ch)
	}
	return e
}

func publishNotificationHandler(svc *notify.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req notificationReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		// a caller going away must not abort a hand-off already in flight
		ctx := context.WithoutCancel(c.Request().Context())
		rcpt, err := svc.Publish(ctx, req.envelope())
		if err != nil {
			return publishFailure(c, log, err)
		}
		return c.JSON(http.StatusAccepted, receiptBody(rcpt))
	}
}

func publishSampleHandler(svc *notify.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := context.WithoutCancel(c.Request().Context())
		rcpt, err := svc.Publish(ctx, notify.SampleEnvelope())
		if err != nil {
			return publishFailure(c, log, err)
		}
		return c.JSON(http.StatusOK, receiptBody(rcpt))
	}
}

func receiptBody(r notify.Receipt) map[string]any {
	return map[string]any{
		"published":   true,
		"message_id":  r.MessageID,
		"exchange":    r.Exchange,
		"routing_key": r.RoutingKey,
	}
}

func publishFailure(c echo.Context, log *zap.Logger, err error) error {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error":  "validation_failed",
			"field":  ve.Field,
			"reason": ve.Err.Error(),
		})
	}

	if kind, ok := publisher.KindOf(err); ok {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error":  "publish_failed",
			"reason": string(kind),
		})
	}

	log.Error("publish notification", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
