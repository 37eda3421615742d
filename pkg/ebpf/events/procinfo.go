package events

import "github.com/kubescape/inuse-agent/pkg/utils"

// CgroupNameLen bounds the cgroup name stored per process.
const CgroupNameLen = 255

// RawProcessInfo mirrors struct proc_info, the value of the pid_to_info map.
type RawProcessInfo struct {
	Zombie uint8
	Cgroup [CgroupNameLen]byte
}

// ProcessInfo is the decoded per-process identity kept by the probes.
type ProcessInfo struct {
	Zombie bool
	Cgroup string
}

func DecodeProcessInfo(raw []byte) (ProcessInfo, error) {
	r, err := ConvertToEvent[RawProcessInfo](raw)
	if err != nil {
		return ProcessInfo{}, err
	}
	return r.Decode(), nil
}

func (r *RawProcessInfo) Decode() ProcessInfo {
	return ProcessInfo{
		Zombie: r.Zombie != 0,
		Cgroup: utils.CString(r.Cgroup[:]),
	}
}
