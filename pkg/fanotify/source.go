//go:build linux

package fanotify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/probeset"
	"github.com/opcoder0/fanotify"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

const (
	DefaultReapInterval = 5 * time.Second
	DefaultMaxProcesses = 1024
)

type Config struct {
	MountPoints  []string
	ReapInterval time.Duration
	// number of processes whose start time is remembered
	MaxProcesses int
}

// notification is an open reported by fanotify.
type notification struct {
	pid  int
	path string
	exec bool
}

// Source feeds fanotify open notifications into the probe set on hosts
// where the kernel probes cannot be loaded. Exits are not reported by
// fanotify, a reaper detects them by scanning procfs.
type Source struct {
	cfg       Config
	probes    *probeset.ProbeSet
	procFS    procfs.FS
	cpus      int
	self      int
	listeners []*fanotify.Listener
	// start time of the process each tracked pid was installed for
	starts    *lru.Cache[uint32, uint64]
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewSource(cfg Config, probes *probeset.ProbeSet, procFS procfs.FS) (*Source, error) {
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = DefaultMaxProcesses
	}
	starts, err := lru.New[uint32, uint64](cfg.MaxProcesses)
	if err != nil {
		return nil, fmt.Errorf("creating start time cache: %w", err)
	}
	return &Source{
		cfg:      cfg,
		probes:   probes,
		procFS:   procFS,
		cpus:     runtime.NumCPU(),
		self:     os.Getpid(),
		starts:   starts,
		stopChan: make(chan struct{}),
	}, nil
}

func (s *Source) Start() error {
	mountPoints := s.cfg.MountPoints
	if len(mountPoints) == 0 {
		discovered, err := DiscoverMountPoints()
		if err != nil {
			return fmt.Errorf("failed to discover mount points: %w", err)
		}
		mountPoints = discovered
	}

	for _, mountPoint := range mountPoints {
		listener, err := fanotify.NewListener(mountPoint, true, fanotify.PermissionNone)
		if err != nil {
			s.cleanupListeners()
			return fmt.Errorf("failed to create fanotify listener for %s: %w", mountPoint, err)
		}
		if err := listener.WatchMount(fanotify.FileOpened.Or(fanotify.FileOpenedForExec)); err != nil {
			listener.Stop()
			s.cleanupListeners()
			return fmt.Errorf("failed to mark mount %s: %w", mountPoint, err)
		}
		listener.Start()
		s.listeners = append(s.listeners, listener)
		logger.L().Debug("fanotify - mount marked", helpers.String("mountPoint", mountPoint))
	}
	if len(s.listeners) == 0 {
		return errors.New("no mount point could be marked")
	}

	for _, listener := range s.listeners {
		s.wg.Add(1)
		go func(l *fanotify.Listener) {
			defer s.wg.Done()
			s.watch(l)
		}(listener)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reapLoop()
	}()
	logger.L().Info("fanotify - source started", helpers.Int("mounts", len(s.listeners)))
	return nil
}

func (s *Source) watch(l *fanotify.Listener) {
	for {
		select {
		case <-s.stopChan:
			return
		case event, ok := <-l.Events:
			if !ok {
				return
			}
			s.handle(toNotification(event))
		}
	}
}

func toNotification(event fanotify.Event) notification {
	path := event.Path
	if event.FileName != "" {
		path = filepath.Join(event.Path, event.FileName)
	}
	return notification{
		pid:  event.Pid,
		path: path,
		exec: event.EventTypes.Has(fanotify.FileOpenedForExec),
	}
}

func (s *Source) handle(n notification) {
	if n.pid <= 0 || n.pid == s.self {
		return
	}
	pid := uint32(n.pid)
	// one pid always lands on the same queue, keeping its events ordered
	task := probeset.Task{Tid: pid, Tgid: pid, CPU: n.pid % s.cpus}
	s.checkReuse(task)
	if n.exec {
		s.probes.SetupNewExec(task, probeset.Literal(n.path), nil)
		return
	}
	s.probes.FsNotify(task)
	s.probes.EnterOpen(task, probeset.Literal(n.path), unix.O_RDONLY)
	s.probes.ExitOpen(task, 0)
}

func (s *Source) reapLoop() {
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

// reap reports the exit of every live tracked process that vanished from
// procfs and re-installs the identity of pids taken by a new process.
func (s *Source) reap() {
	table := s.probes.Identities()
	for _, pid := range table.Pids() {
		process, ok, _ := table.Lookup(pid)
		if !ok || process.Zombie {
			continue
		}
		task := probeset.Task{Tid: pid, Tgid: pid, CPU: int(pid) % s.cpus}
		if _, err := s.procFS.Proc(int(pid)); err == nil || !errors.Is(err, fs.ErrNotExist) {
			s.checkReuse(task)
			continue
		}
		s.starts.Remove(pid)
		s.probes.ProcessExit(task)
	}
}

// checkReuse compares the start time of the process now holding the pid of
// task with the one recorded for it. A different start time means the pid
// was reused between two scans, and the identity is read again.
func (s *Source) checkReuse(task probeset.Task) {
	start, err := s.startTime(task.Tgid)
	if err != nil {
		return
	}
	previous, seen := s.starts.Get(task.Tgid)
	s.starts.Add(task.Tgid, start)
	if !seen || previous == start {
		return
	}
	logger.L().Debug("fanotify - pid reused", helpers.Int("pid", int(task.Tgid)))
	s.probes.Reinstall(task)
}

// startTime returns the start time of pid in clock ticks after boot.
func (s *Source) startTime(pid uint32) (uint64, error) {
	proc, err := s.procFS.Proc(int(pid))
	if err != nil {
		return 0, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Starttime, nil
}

func (s *Source) cleanupListeners() {
	for _, listener := range s.listeners {
		listener.Stop()
	}
	s.listeners = s.listeners[:0]
}

func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.cleanupListeners()
	})
}
