package domain

import (
	"regexp"
	"time"
)

// BuildSource points at a git repository holding a Dockerfile. Templates
// carrying one get their image built at startup instead of pulled.
type BuildSource struct {
	RepoURL    string `json:"repo_url"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// ServiceTemplate describes a production service.
type ServiceTemplate struct {
	Name        string
	Image       string
	Ports       []int // container ports, published over tcp
	Environment map[string]string
	Volumes     []string
	Build       *BuildSource
}

// LogMonitoring tells the sentinel where a decoy writes its login log and
// what a successful login looks like. The pattern's first group captures
// the actor identity, the second the source.
type LogMonitoring struct {
	LogFile        string
	SuccessPattern *regexp.Regexp
	CheckInterval  time.Duration
}

// Enabled reports whether both a log file and a pattern are configured.
func (m LogMonitoring) Enabled() bool {
	return m.LogFile != "" && m.SuccessPattern != nil
}

// DecoyTemplate describes a honeypot service and how many instances of it
// to keep alive.
type DecoyTemplate struct {
	Name         string
	Image        string
	MinInstances int
	MaxInstances int
	PortRange    PortRange
	// ContainerPort is the port the decoy listens on inside the container.
	// Zero means the drawn host port is used on both sides.
	ContainerPort int
	Environment   map[string]string // may contain {username} and {password}
	Volumes       []string
	Monitoring    LogMonitoring
	Build         *BuildSource
}
