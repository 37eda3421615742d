package fanotify

import (
	"github.com/moby/sys/mountinfo"
)

// markableFSTypes are the filesystems that hold files worth reporting.
var markableFSTypes = []string{"ext2", "ext3", "ext4", "xfs", "btrfs", "overlay", "zfs", "f2fs"}

// DiscoverMountPoints lists the mounts of local disk-backed filesystems.
func DiscoverMountPoints() ([]string, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.FSTypeFilter(markableFSTypes...))
	if err != nil {
		return nil, err
	}
	points := make([]string, 0, len(mounts))
	for _, m := range mounts {
		points = append(points, m.Mountpoint)
	}
	return points, nil
}
