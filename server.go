package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"webhook-notifier/quota"
)

const healthTimeout = 5 * time.Second

// Check is one dependency pinged by /health.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// AccountReset is the body of PUT /accounts/:account/quota. Omitted
// fields are left unchanged.
type AccountReset struct {
	Tier        *string `json:"tier"`
	Requests    *int64  `json:"webhooks_requests"`
	Counter     *int64  `json:"webhooks_counter"`
	FailedLimit *int64  `json:"webhooks_requests_failed_limit"`
}

func (r AccountReset) fields() map[string]any {
	fields := make(map[string]any)
	if r.Tier != nil {
		fields[quota.FieldTier] = *r.Tier
	}
	if r.Requests != nil {
		fields[quota.FieldRequests] = *r.Requests
	}
	if r.Counter != nil {
		fields[quota.FieldCounter] = *r.Counter
	}
	if r.FailedLimit != nil {
		fields[quota.FieldFailedLimit] = *r.FailedLimit
	}
	return fields
}

func newServer(store *quota.Store, checks []Check, logger logrus.FieldLogger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()
		for _, check := range checks {
			if err := check.Ping(ctx); err != nil {
				logger.WithError(err).WithField("check", check.Name).Warn("health check failed")
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": check.Name + ": " + err.Error(),
				})
			}
		}
		return c.SendStatus(fiber.StatusOK)
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/accounts/:account/quota", func(c *fiber.Ctx) error {
		fields, err := store.Account(c.Context(), c.Params("account"))
		if err != nil {
			logger.WithError(err).Error("failed to read account quota")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to read account quota",
			})
		}
		if len(fields) == 0 {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "account not found",
			})
		}
		return c.JSON(fields)
	})

	app.Put("/accounts/:account/quota", func(c *fiber.Ctx) error {
		var req AccountReset
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if err := store.ResetAccount(c.Context(), c.Params("account"), req.fields()); err != nil {
			logger.WithError(err).Error("failed to reset account quota")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to reset account quota",
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/accounts/:account/webhooks/:webhook/failures", func(c *fiber.Ctx) error {
		if err := store.ResetWebhookFails(c.Context(), c.Params("account"), c.Params("webhook")); err != nil {
			logger.WithError(err).Error("failed to reset webhook failures")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to reset webhook failures",
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	return app
}
