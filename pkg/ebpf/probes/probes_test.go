package probes

import (
	"errors"
	"os"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/kubescape/inuse-agent/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventMaps() map[string]*ebpf.MapSpec {
	return map[string]*ebpf.MapSpec{
		OpenEventsMap: {Name: OpenEventsMap, Type: ebpf.PerfEventArray, KeySize: 4, ValueSize: 4},
		ExitEventsMap: {Name: ExitEventsMap, Type: ebpf.PerfEventArray, KeySize: 4, ValueSize: 4},
		ProcessInfoMap: {Name: ProcessInfoMap, Type: ebpf.Hash, KeySize: 4, ValueSize: 256, MaxEntries: 1024},
	}
}

func TestUpgradeEventMapsToRingBuffer(t *testing.T) {
	maps := eventMaps()
	err := UpgradeEventMaps(maps, Options{
		Kind:          transport.RingBuffer,
		OpenRingBytes: 256 * 1024,
		ExitRingBytes: uint32(os.Getpagesize()),
	})
	require.NoError(t, err)

	open := maps[OpenEventsMap]
	assert.Equal(t, ebpf.RingBuf, open.Type)
	assert.Equal(t, uint32(0), open.KeySize)
	assert.Equal(t, uint32(0), open.ValueSize)
	assert.Equal(t, uint32(256*1024), open.MaxEntries)
	assert.Equal(t, ebpf.RingBuf, maps[ExitEventsMap].Type)
	assert.Equal(t, ebpf.Hash, maps[ProcessInfoMap].Type)
}

func TestUpgradeEventMapsKeepsPerfBuffer(t *testing.T) {
	maps := eventMaps()
	require.NoError(t, UpgradeEventMaps(maps, Options{Kind: transport.PerfBuffer}))
	assert.Equal(t, ebpf.PerfEventArray, maps[OpenEventsMap].Type)
	assert.Equal(t, ebpf.PerfEventArray, maps[ExitEventsMap].Type)
}

func TestUpgradeEventMapsRejectsBadSizes(t *testing.T) {
	err := UpgradeEventMaps(eventMaps(), Options{Kind: transport.RingBuffer, OpenRingBytes: 3000, ExitRingBytes: 4096})
	assert.Error(t, err)
}

func TestUpgradeEventMapsRequiresPerfDeclaration(t *testing.T) {
	maps := eventMaps()
	maps[OpenEventsMap].Type = ebpf.Hash
	assert.Error(t, UpgradeEventMaps(maps, Options{Kind: transport.PerfBuffer}))

	delete(maps, OpenEventsMap)
	assert.Error(t, UpgradeEventMaps(maps, Options{Kind: transport.PerfBuffer}))
}

func TestRemovePrograms(t *testing.T) {
	spec := &ebpf.CollectionSpec{Programs: map[string]*ebpf.ProgramSpec{
		"enter_openat":  {Name: "enter_openat"},
		"enter_openat2": {Name: "enter_openat2"},
		"exit_openat2":  {Name: "exit_openat2"},
	}}
	RemovePrograms(spec, optionalPrograms...)
	assert.Len(t, spec.Programs, 1)
	assert.Contains(t, spec.Programs, "enter_openat")
}

func TestAttachPointsCoverEveryProbe(t *testing.T) {
	programs := make(map[string]bool)
	for _, ap := range attachPoints {
		assert.False(t, programs[ap.program], "duplicate program %s", ap.program)
		programs[ap.program] = true
	}
	for _, name := range optionalPrograms {
		assert.True(t, programs[name])
	}
	assert.True(t, programs["kprobe__setup_new_exec"])
	assert.True(t, programs["kprobe__fsnotify"])
	assert.True(t, programs["sched_process_exit"])
}

type fakeLink struct {
	link.Link
	program string
	closed  map[string]bool
}

func (l *fakeLink) Close() error {
	l.closed[l.program] = true
	return nil
}

func loadedPrograms() map[string]*ebpf.Program {
	programs := make(map[string]*ebpf.Program, len(attachPoints))
	for _, ap := range attachPoints {
		programs[ap.program] = nil
	}
	return programs
}

// fakeAttach fails on the programs listed in failing.
func fakeAttach(closed map[string]bool, failing ...string) attachFunc {
	return func(ap attachPoint, _ *ebpf.Program) (link.Link, error) {
		for _, name := range failing {
			if ap.program == name {
				return nil, errors.New("tracepoint not found")
			}
		}
		return &fakeLink{program: ap.program, closed: closed}, nil
	}
}

func attachedPrograms(links []link.Link) []string {
	var names []string
	for _, l := range links {
		names = append(names, l.(*fakeLink).program)
	}
	return names
}

func TestAttachAll(t *testing.T) {
	closed := map[string]bool{}
	links, err := attachAll(loadedPrograms(), fakeAttach(closed))
	require.NoError(t, err)
	assert.Len(t, links, len(attachPoints))
	assert.Empty(t, closed)
}

func TestAttachAllSkipsMissingPrograms(t *testing.T) {
	programs := loadedPrograms()
	delete(programs, "enter_creat")
	delete(programs, "exit_creat")

	links, err := attachAll(programs, fakeAttach(map[string]bool{}))
	require.NoError(t, err)
	assert.Len(t, links, len(attachPoints)-2)
	assert.NotContains(t, attachedPrograms(links), "enter_creat")
}

func TestAttachAllFallsBackWithoutOpenat2Tracepoint(t *testing.T) {
	closed := map[string]bool{}
	links, err := attachAll(loadedPrograms(), fakeAttach(closed, "exit_openat2"))
	require.NoError(t, err)

	names := attachedPrograms(links)
	assert.Len(t, names, len(attachPoints)-2)
	assert.NotContains(t, names, "enter_openat2")
	assert.NotContains(t, names, "exit_openat2")
	assert.Contains(t, names, "exit_openat")
	// the enter half was attached before the exit half failed
	assert.True(t, closed["enter_openat2"])
	assert.Len(t, closed, 1)
}

func TestAttachAllFailsOnRequiredProgram(t *testing.T) {
	closed := map[string]bool{}
	links, err := attachAll(loadedPrograms(), fakeAttach(closed, "sched_process_exit"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sched_process_exit")
	assert.Nil(t, links)
	assert.True(t, closed["enter_openat"])
	assert.True(t, closed["cgroup_attach_task"])
	assert.False(t, closed["kprobe__fsnotify"])
}

func TestEmbeddedObject(t *testing.T) {
	spec, err := loadSpec("")
	require.NoError(t, err)
	for _, name := range []string{OpenEventsMap, ExitEventsMap, ProcessInfoMap, DropsMap} {
		assert.Contains(t, spec.Maps, name)
	}
	for _, ap := range attachPoints {
		assert.Contains(t, spec.Programs, ap.program)
	}
	require.NoError(t, ConfigureSpec(spec, Options{Kind: transport.PerfBuffer, IdentityEntries: 2048}))
	assert.Equal(t, uint32(2048), spec.Maps[ProcessInfoMap].MaxEntries)
}

func TestLoadSpecMissingFile(t *testing.T) {
	_, err := loadSpec("/nonexistent/probes.bpf.o")
	assert.Error(t, err)
}
