package events

// RawExitEvent mirrors the u32 emitted on the exit channel.
type RawExitEvent struct {
	Tgid uint32
}

// ExitEvent reports that the main thread of a tracked process exited.
type ExitEvent struct {
	Pid uint32
}

func DecodeExitEvent(raw []byte) (ExitEvent, error) {
	r, err := ConvertToEvent[RawExitEvent](raw)
	if err != nil {
		return ExitEvent{}, err
	}
	return ExitEvent{Pid: r.Tgid}, nil
}

func (e ExitEvent) Encode() []byte {
	return toBytes(&RawExitEvent{Tgid: e.Pid})
}
