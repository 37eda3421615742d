package utils

const (
	// standard exit codes
	ExitCodeSuccess = iota
	ExitCodeError   = 1

	// custom exit codes
	ExitCodeProbeLoad          = 100
	ExitCodeIncompatibleKernel = 101
	ExitCodeMacOS              = 102
)
