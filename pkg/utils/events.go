package utils

type EventType string

const (
	OpenEventType EventType = "open"
	ExitEventType EventType = "exit"
)

// DropReason labels an event discarded before it became a fact.
type DropReason string

const (
	DropRelativePath DropReason = "relative_path"
	DropCopyFailed   DropReason = "copy_failed"
	DropTableFull    DropReason = "table_full"
	DropOutputFull   DropReason = "output_full"
	DropNoCgroup     DropReason = "cgroup_unavailable"
	DropDecodeFailed DropReason = "decode_failed"
	DropFiltered     DropReason = "filtered"
	DropNotRegular   DropReason = "not_regular_file"
	DropUnresolvable DropReason = "unresolvable"
)
