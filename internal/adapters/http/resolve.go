package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ResolveHandler tells legitimate clients where a production service is
// currently published.
type ResolveHandler struct {
	fleet FleetReader
}

// NewResolveHandler creates a new resolve handler.
func NewResolveHandler(fleet FleetReader) *ResolveHandler {
	return &ResolveHandler{fleet: fleet}
}

type endpoint struct {
	Service       string `json:"service"`
	Container     string `json:"container"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
	HostPort      int    `json:"host_port"`
}

// ResolveService looks up the production container serving :name and
// returns its current port bindings. Decoys are never resolved.
func (h *ResolveHandler) ResolveService(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Service name is required",
		})
	}

	for _, container := range h.fleet.Snapshot().Production {
		if container.Service != name {
			continue
		}
		endpoints := make([]endpoint, 0, len(container.Ports))
		for _, p := range container.Ports {
			endpoints = append(endpoints, endpoint{
				Service:       container.Service,
				Container:     container.Name,
				ContainerPort: p.ContainerPort,
				Protocol:      p.Protocol,
				HostPort:      p.HostPort,
			})
		}
		return c.JSON(endpoints)
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": fmt.Sprintf("Service '%s' not found", name),
	})
}
