package utils

const (
	ErrKernelVersion = "incompatible kernel version"
	ErrMacOS         = "macOS is not supported"
	ErrProbeLoad     = "failed to load kernel probes"
)
