package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/melih/howls-moving-docker/internal/core/domain"
	"github.com/melih/howls-moving-docker/internal/core/services"
)

// FleetReader is the read side of the orchestrator.
type FleetReader interface {
	Snapshot() domain.FleetState
	Detections() []domain.DetectionEvent
	Status() services.Status
}

type FleetHandler struct {
	fleet FleetReader
}

func NewFleetHandler(fleet FleetReader) *FleetHandler {
	return &FleetHandler{fleet: fleet}
}

// NewApp sets up the status API. metrics may be nil.
func NewApp(fleet FleetReader, metrics http.Handler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	fleetHandler := NewFleetHandler(fleet)
	resolveHandler := NewResolveHandler(fleet)

	api := app.Group("/api")
	v1 := api.Group("/v1")
	v1.Get("/status", fleetHandler.GetStatus)
	v1.Get("/fleet", fleetHandler.GetFleet)
	v1.Get("/fleet/production", fleetHandler.GetProduction)
	v1.Get("/fleet/decoys", fleetHandler.GetDecoys)
	v1.Get("/detections", fleetHandler.GetDetections)
	v1.Get("/services/:name", resolveHandler.ResolveService)

	if metrics != nil {
		// Fiber <-> Net/HTTP Adaptor
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}
	return app
}

func (h *FleetHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(h.fleet.Status())
}

func (h *FleetHandler) GetFleet(c *fiber.Ctx) error {
	return c.JSON(h.fleet.Snapshot())
}

func (h *FleetHandler) GetProduction(c *fiber.Ctx) error {
	return c.JSON(h.fleet.Snapshot().Production)
}

func (h *FleetHandler) GetDecoys(c *fiber.Ctx) error {
	return c.JSON(h.fleet.Snapshot().Decoys)
}

func (h *FleetHandler) GetDetections(c *fiber.Ctx) error {
	events := h.fleet.Detections()
	if service := c.Query("service"); service != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.ServiceName == service {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []domain.DetectionEvent{}
	}
	return c.JSON(events)
}
