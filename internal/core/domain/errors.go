package domain

import "fmt"

// ConfigError reports a missing or malformed configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AcquisitionError reports a failure to obtain the credential wordlist.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire password list from %s: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// RuntimeError wraps an error returned by the container runtime.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// MonitoringError reports a failed log check of a single decoy.
type MonitoringError struct {
	Container string
	Err       error
}

func (e *MonitoringError) Error() string {
	return fmt.Sprintf("failed to monitor log file for container %s: %v", e.Container, e.Err)
}

func (e *MonitoringError) Unwrap() error { return e.Err }
