package events

import (
	"unsafe"

	"github.com/kubescape/inuse-agent/pkg/utils"
)

// MaxPathLen bounds the path carried by an open event, terminating NUL included.
const MaxPathLen = 256

// RawOpenEvent mirrors struct evt_open in the kernel program.
type RawOpenEvent struct {
	Tgid     uint32
	Filename [MaxPathLen]byte
}

// OpenEvent reports that a process opened or executed the file at Path.
type OpenEvent struct {
	Pid  uint32
	Path string
}

// DecodeOpenEvent decodes a raw sample in host byte order. Perf samples may
// carry trailing alignment padding, which is ignored.
func DecodeOpenEvent(raw []byte) (OpenEvent, error) {
	r, err := ConvertToEvent[RawOpenEvent](raw)
	if err != nil {
		return OpenEvent{}, err
	}
	return OpenEvent{
		Pid:  r.Tgid,
		Path: utils.CString(r.Filename[:]),
	}, nil
}

// Encode lays the event out exactly as the kernel program does. Paths longer
// than MaxPathLen-1 bytes are truncated.
func (e OpenEvent) Encode() []byte {
	var r RawOpenEvent
	r.Tgid = e.Pid
	utils.PutCString(r.Filename[:], e.Path)
	return toBytes(&r)
}

func toBytes[T any](v *T) []byte {
	b := make([]byte, unsafe.Sizeof(*v))
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(v)), len(b)))
	return b
}
