package validator

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/cilium/ebpf/btf"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/config"
	"github.com/kubescape/inuse-agent/pkg/utils"
	"golang.org/x/sys/unix"
)

const (
	// bpf_probe_read_kernel_str and bpf_probe_read_user_str
	ebpfMinKernelVersion = "5.5"
	// FAN_OPEN_EXEC
	fanotifyMinKernelVersion = "5.0"
)

var kernelVersionRegex = regexp.MustCompile(`^\d+\.\d+(\.\d+)?`)

// ParseKernelVersion extracts major.minor.patch from a kernel release
// string such as 4.15.0-112-generic or 6.11+parrot-amd64.
func ParseKernelVersion(release string) (uint, uint, uint, error) {
	match := kernelVersionRegex.FindString(release)
	if match == "" {
		return 0, 0, 0, fmt.Errorf("unexpected kernel release %q", release)
	}
	v, err := semver.NewVersion(match)
	if err != nil {
		return 0, 0, 0, err
	}
	return uint(v.Major()), uint(v.Minor()), uint(v.Patch()), nil
}

func kernelRelease() (string, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return "", fmt.Errorf("failed to detect the kernel version: %w", err)
	}
	return unix.ByteSliceToString(uname.Release[:]), nil
}

func checkKernelVersion(release, minVersion string) error {
	major, minor, patch, err := ParseKernelVersion(release)
	if err != nil {
		return err
	}
	constraint, err := semver.NewConstraint(">= " + minVersion)
	if err != nil {
		return err
	}
	current := semver.New(uint64(major), uint64(minor), uint64(patch), "", "")
	if !constraint.Check(current) {
		return fmt.Errorf("%s: kernel %s is older than %s", utils.ErrKernelVersion, release, minVersion)
	}
	return nil
}

func checkBTFSupport() error {
	if _, err := btf.LoadKernelSpec(); err != nil {
		return fmt.Errorf("%s: BTF support not detected: %w", utils.ErrKernelVersion, err)
	}
	return nil
}

// CheckPrerequisites verifies that the selected backend can run on this host.
func CheckPrerequisites(cfg config.Config) error {
	if runtime.GOOS == "darwin" {
		return errors.New(utils.ErrMacOS)
	}
	release, err := kernelRelease()
	if err != nil {
		return err
	}
	logger.L().Debug("detected kernel", helpers.String("release", release), helpers.String("backend", cfg.Backend))

	minVersion := ebpfMinKernelVersion
	if cfg.Backend == config.BackendFanotify {
		minVersion = fanotifyMinKernelVersion
	}
	if err := checkKernelVersion(release, minVersion); err != nil {
		return err
	}
	if cfg.Backend == config.BackendEBPF {
		return checkBTFSupport()
	}
	return nil
}
