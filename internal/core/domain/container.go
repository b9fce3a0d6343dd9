package domain

import "fmt"

// PortRange is an inclusive range of host ports.
type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether p lies within the range.
func (r PortRange) Contains(p int) bool {
	return p >= r.Start && p <= r.End
}

// Size is the number of ports in the range.
func (r PortRange) Size() int {
	return r.End - r.Start + 1
}

// PortBinding publishes a container port on a host port.
type PortBinding struct {
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
	HostPort      int    `json:"host_port"`
}

// Key is the runtime notation of the container side, e.g. "80/tcp".
func (b PortBinding) Key() string {
	proto := b.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return fmt.Sprintf("%d/%s", b.ContainerPort, proto)
}

// ContainerSpec is everything needed to launch a container. The runtime
// applies it as given, nothing is defaulted.
type ContainerSpec struct {
	Name    string            `json:"name"`
	Service string            `json:"service"` // logical name the container serves
	Image   string            `json:"image"`
	Ports   []PortBinding     `json:"ports"`
	Env     map[string]string `json:"env,omitempty"`
	Volumes []string          `json:"volumes,omitempty"` // host:mount:mode binds
	Network string            `json:"network,omitempty"`
}

// RunningContainer represents a container launched by the orchestrator
type RunningContainer struct {
	ID string `json:"id"`
	ContainerSpec
}

// HostPorts returns the published host ports in declaration order.
func (c RunningContainer) HostPorts() []int {
	ports := make([]int, 0, len(c.Ports))
	for _, p := range c.Ports {
		ports = append(ports, p.HostPort)
	}
	return ports
}

// ShortID is the 12 character form of the container ID.
func (c RunningContainer) ShortID() string {
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}
