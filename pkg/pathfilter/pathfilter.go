// Package pathfilter decides which opened paths are reported for a workload
// and rewrites them to the regular file they name inside the workload root.
package pathfilter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/dghubble/trie"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/resolver"
	"github.com/kubescape/inuse-agent/pkg/utils"
)

// DefaultHostIncludes are the host directories holding installed software.
var DefaultHostIncludes = []string{"/bin", "/lib", "/lib32", "/lib64", "/libx32", "/opt", "/sbin", "/usr"}

type Config struct {
	// where the host filesystem is mounted in the agent's mount namespace
	HostRoot string
	// host opens are reported only under these directories
	HostIncludes []string
	// container opens under these directories are not reported
	ContainerExcludes []string
}

// Filter resolves opened paths against the root of the workload that
// opened them.
type Filter struct {
	hostRoot          string
	hostIncludes      *prefixSet
	containerExcludes *prefixSet
}

func New(cfg Config) *Filter {
	hostRoot := cfg.HostRoot
	if hostRoot == "" {
		hostRoot = "/"
	}
	hostRoot = filepath.Clean(hostRoot)

	// includes are compared with resolved paths, so /lib on a merged /usr
	// host becomes /usr/lib
	includes := make([]string, 0, len(cfg.HostIncludes))
	for _, include := range cfg.HostIncludes {
		resolved, err := realpath(hostRoot, include)
		if err != nil {
			logger.L().Warning("PathFilter - ignoring host include", helpers.String("path", include), helpers.Error(err))
			continue
		}
		includes = append(includes, resolved)
	}
	return &Filter{
		hostRoot:          hostRoot,
		hostIncludes:      newPrefixSet(includes),
		containerExcludes: newPrefixSet(cfg.ContainerExcludes),
	}
}

// Resolve returns the path of the regular file that pid opened as path, as
// seen from the root of workload. When the open is not reported, ok is false
// and reason tells why.
func (f *Filter) Resolve(workload resolver.WorkloadIdentity, pid uint32, path string) (resolved string, reason utils.DropReason, ok bool) {
	root := f.root(workload, pid)
	resolved, err := realpath(root, path)
	if err != nil {
		logger.L().Debug("PathFilter - failed to resolve path", helpers.String("path", path), helpers.String("root", root), helpers.Error(err))
		return "", utils.DropUnresolvable, false
	}
	info, err := os.Stat(filepath.Join(root, resolved))
	if err != nil {
		// mostly transient files deleted before the lookup
		if !errors.Is(err, os.ErrNotExist) {
			logger.L().Debug("PathFilter - failed to stat path", helpers.String("path", resolved), helpers.String("root", root), helpers.Error(err))
		}
		return "", utils.DropUnresolvable, false
	}
	if !info.Mode().IsRegular() {
		return "", utils.DropNotRegular, false
	}

	switch workload.Kind {
	case resolver.KindHost:
		if !f.hostIncludes.contains(resolved) {
			return "", utils.DropFiltered, false
		}
	case resolver.KindContainer:
		if f.containerExcludes.contains(resolved) {
			return "", utils.DropFiltered, false
		}
	}
	return resolved, "", true
}

// root is the directory the paths of workload are relative to. A container
// whose runtime did not report its rootfs is reached through the root of
// the process.
func (f *Filter) root(workload resolver.WorkloadIdentity, pid uint32) string {
	if workload.Kind != resolver.KindContainer {
		return f.hostRoot
	}
	if workload.Runtime != nil && workload.Runtime.RootFS != "" {
		return filepath.Join(f.hostRoot, workload.Runtime.RootFS)
	}
	return filepath.Join(f.hostRoot, "proc", strconv.FormatUint(uint64(pid), 10), "root")
}

// realpath resolves every symlink of path without leaving root and returns
// the result relative to root.
func realpath(root, path string) (string, error) {
	joined, err := securejoin.SecureJoin(root, path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, joined)
	if err != nil {
		return "", fmt.Errorf("%s escaped %s: %w", joined, root, err)
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + rel, nil
}

var errFound = errors.New("found")

// prefixSet matches paths against directory prefixes, component by
// component: /usr holds /usr/lib but not /usrlocal.
type prefixSet struct {
	trie *trie.PathTrie
	all  bool
}

func newPrefixSet(prefixes []string) *prefixSet {
	s := &prefixSet{trie: trie.NewPathTrie()}
	for _, prefix := range prefixes {
		prefix = filepath.Clean("/" + prefix)
		if prefix == "/" {
			s.all = true
			continue
		}
		s.trie.Put(prefix, struct{}{})
	}
	return s
}

func (s *prefixSet) contains(path string) bool {
	if s.all {
		return true
	}
	err := s.trie.WalkPath(filepath.Clean(path), func(string, interface{}) error {
		return errFound
	})
	return errors.Is(err, errFound)
}
