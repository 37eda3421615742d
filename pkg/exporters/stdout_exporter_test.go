package exporters

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/kubescape/inuse-agent/pkg/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestInitStdoutExporter(t *testing.T) {
	tests := []struct {
		name      string
		useStdout *bool
		env       string
		enabled   bool
	}{
		{name: "default", enabled: true},
		{name: "explicitly enabled", useStdout: boolPtr(true), enabled: true},
		{name: "explicitly disabled", useStdout: boolPtr(false), enabled: false},
		{name: "disabled from env", env: "false", enabled: false},
		{name: "enabled from env", env: "true", enabled: true},
		{name: "config wins over env", useStdout: boolPtr(true), env: "false", enabled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("STDOUT_ENABLED", tt.env)
			}
			exporter := InitStdoutExporter(tt.useStdout)
			if !tt.enabled {
				assert.Nil(t, exporter)
				return
			}
			require.NotNil(t, exporter)
			assert.NotNil(t, exporter.logger)
		})
	}
}

func TestStdoutExporter_SendFact(t *testing.T) {
	exporter := InitStdoutExporter(boolPtr(true))
	require.NotNil(t, exporter)
	var buf bytes.Buffer
	exporter.logger.SetOutput(&buf)

	require.NoError(t, exporter.SendFact(context.Background(), testFact()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "/etc/nginx/nginx.conf", line["path"])
	assert.Equal(t, "container:"+testContainerID, line["workload"])
	assert.Equal(t, testContainerID, line["container"])
	assert.EqualValues(t, 4242, line["pid"])
}

func TestStdoutExporter_SendFactUnknownWorkload(t *testing.T) {
	exporter := InitStdoutExporter(boolPtr(true))
	require.NotNil(t, exporter)
	var buf bytes.Buffer
	exporter.logger.SetOutput(&buf)

	require.NoError(t, exporter.SendFact(context.Background(), Fact{Workload: resolver.UnknownIdentity(), Path: "/bin/sh"}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "unknown", line["workload"])
	assert.Equal(t, "/bin/sh", line["path"])
}
