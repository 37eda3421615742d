package exporters

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kubescape/inuse-agent/pkg/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendFact(t *testing.T) {
	bodyChan := make(chan []byte, 1)
	var gotPath, gotHeader string
	// Create a mock HTTP server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		bodyChan <- body
	}))
	defer server.Close()

	exporter, err := InitHTTPExporter(HTTPExporterConfig{
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	}, "node-1")
	require.NoError(t, err)

	require.NoError(t, exporter.SendFact(context.Background(), testFact()))

	factsList := HTTPFactsList{}
	select {
	case body := <-bodyChan:
		require.NoError(t, json.Unmarshal(body, &factsList))
	case <-time.After(1 * time.Second):
		t.Fatalf("Timed out waiting for request body")
	}
	assert.Equal(t, "/v1/inusefiles", gotPath)
	assert.Equal(t, "Bearer token", gotHeader)
	assert.Equal(t, "InUseFiles", factsList.Kind)
	assert.Equal(t, "kubescape.io/v1", factsList.APIVersion)
	assert.Equal(t, "node-1", factsList.Spec.NodeName)
	require.Len(t, factsList.Spec.Facts, 1)
	fact := factsList.Spec.Facts[0]
	assert.Equal(t, "/etc/nginx/nginx.conf", fact.Path)
	assert.Equal(t, resolver.KindContainer, fact.Workload.Kind)
	assert.Equal(t, testContainerID, fact.Workload.ContainerID)
	require.NotNil(t, fact.Workload.Runtime)
	assert.Equal(t, "default/web/nginx", fact.Workload.Runtime.Name)
}

func TestSendFactNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	exporter, err := InitHTTPExporter(HTTPExporterConfig{URL: server.URL}, "node-1")
	require.NoError(t, err)
	assert.Error(t, exporter.SendFact(context.Background(), testFact()))
}

func TestValidateHTTPExporterConfig(t *testing.T) {
	exp, err := InitHTTPExporter(HTTPExporterConfig{
		URL: "http://localhost:9093",
	}, "node")
	require.NoError(t, err)
	assert.Equal(t, "POST", exp.config.Method)
	assert.Equal(t, 5, exp.config.TimeoutSeconds)
	assert.Equal(t, map[string]string{}, exp.config.Headers)

	exp, err = InitHTTPExporter(HTTPExporterConfig{
		URL:            "http://localhost:9093",
		Method:         "PUT",
		TimeoutSeconds: 2,
		Headers:        map[string]string{"key": "value"},
	}, "node")
	require.NoError(t, err)
	assert.Equal(t, "PUT", exp.config.Method)
	assert.Equal(t, 2, exp.config.TimeoutSeconds)
	assert.Equal(t, map[string]string{"key": "value"}, exp.config.Headers)

	_, err = InitHTTPExporter(HTTPExporterConfig{
		URL:    "http://localhost:9093",
		Method: "DELETE",
	}, "node")
	assert.Error(t, err)

	_, err = InitHTTPExporter(HTTPExporterConfig{}, "node")
	assert.Error(t, err)
}

func TestSendFactBulked(t *testing.T) {
	var mu sync.Mutex
	var lists []HTTPFactsList
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var list HTTPFactsList
		if err := json.NewDecoder(r.Body).Decode(&list); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		mu.Lock()
		lists = append(lists, list)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exporter, err := InitHTTPExporter(HTTPExporterConfig{
		URL:               server.URL,
		EnableFactBulking: true,
		BulkMaxFacts:      3,
	}, "node-1")
	require.NoError(t, err)
	require.NotNil(t, exporter.bulkManager)

	for _, path := range []string{"/etc/a", "/etc/b", "/etc/c"} {
		fact := testFact()
		fact.Path = path
		require.NoError(t, exporter.SendFact(context.Background(), fact))
	}
	require.NoError(t, exporter.SendFact(context.Background(), hostFact("/usr/bin/env")))

	requests := func() []HTTPFactsList {
		mu.Lock()
		defer mu.Unlock()
		return append([]HTTPFactsList(nil), lists...)
	}
	assert.Eventually(t, func() bool { return len(requests()) == 1 }, time.Second, 10*time.Millisecond)
	first := requests()[0]
	assert.Equal(t, "InUseFiles", first.Kind)
	require.Len(t, first.Spec.Facts, 3)
	assert.Equal(t, []string{"/etc/a", "/etc/b", "/etc/c"},
		[]string{first.Spec.Facts[0].Path, first.Spec.Facts[1].Path, first.Spec.Facts[2].Path})

	exporter.Stop()
	require.Len(t, requests(), 2)
	require.Len(t, requests()[1].Spec.Facts, 1)
	assert.Equal(t, "/usr/bin/env", requests()[1].Spec.Facts[0].Path)
}

func TestValidateHTTPExporterBulkDefaults(t *testing.T) {
	config := HTTPExporterConfig{URL: "http://localhost:9093", EnableFactBulking: true}
	require.NoError(t, config.Validate())
	assert.Equal(t, DefaultBulkMaxFacts, config.BulkMaxFacts)
	assert.Equal(t, 10, config.BulkTimeoutSeconds)

	config = HTTPExporterConfig{URL: "http://localhost:9093", EnableFactBulking: true, BulkMaxFacts: -1}
	assert.Error(t, config.Validate())
}
