package supervisor

import (
	"golang.org/x/sys/unix"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

// DiskSpace describes the filesystem backing an instance's data dir
type DiskSpace struct {
	TotalBytes     uint64 `json:"totalBytes"`
	FreeBytes      uint64 `json:"freeBytes"`
	AvailableBytes uint64 `json:"availableBytes"`
	UsedBytes      uint64 `json:"usedBytes"`
}

func statDiskSpace(path string) (*DiskSpace, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return nil, errs.Internal(err, "statfs %s failed", path)
	}

	blockSize := uint64(stat.Bsize)
	space := &DiskSpace{
		TotalBytes:     stat.Blocks * blockSize,
		FreeBytes:      stat.Bfree * blockSize,
		AvailableBytes: stat.Bavail * blockSize,
	}
	space.UsedBytes = space.TotalBytes - space.FreeBytes
	return space, nil
}
