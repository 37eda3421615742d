package exporters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

type HTTPExporterConfig struct {
	// URL is the URL to send the HTTP request to
	URL string `json:"url" mapstructure:"url"`
	// Headers is a map of headers to send in the HTTP request
	Headers map[string]string `json:"headers" mapstructure:"headers"`
	// Timeout is the timeout for the HTTP request
	TimeoutSeconds int `json:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	// Method is the HTTP method to use for the HTTP request
	Method string `json:"method" mapstructure:"method"`
	// EnableFactBulking groups facts per workload into one request
	EnableFactBulking  bool `json:"enableFactBulking" mapstructure:"enableFactBulking"`
	BulkMaxFacts       int  `json:"bulkMaxFacts" mapstructure:"bulkMaxFacts"`
	BulkTimeoutSeconds int  `json:"bulkTimeoutSeconds" mapstructure:"bulkTimeoutSeconds"`
	BulkSendQueueSize  int  `json:"bulkSendQueueSize" mapstructure:"bulkSendQueueSize"`
	BulkMaxRetries     int  `json:"bulkMaxRetries" mapstructure:"bulkMaxRetries"`
}

// we will have a CRD-like json struct to send in the HTTP request
type HTTPExporter struct {
	config      HTTPExporterConfig
	Host        string `json:"host"`
	NodeName    string `json:"nodeName"`
	httpClient  *http.Client
	bulkManager *FactBulkManager
}

type HTTPFactsList struct {
	Kind       string            `json:"kind"`
	APIVersion string            `json:"apiVersion"`
	Spec       HTTPFactsListSpec `json:"spec"`
}

type HTTPFactsListSpec struct {
	Host     string `json:"host"`
	NodeName string `json:"nodeName"`
	Facts    []Fact `json:"facts"`
}

func (config *HTTPExporterConfig) Validate() error {
	if config.Method == "" {
		config.Method = http.MethodPost
	} else if config.Method != http.MethodPost && config.Method != http.MethodPut {
		return fmt.Errorf("method must be POST or PUT")
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = 5
	}
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}
	if config.URL == "" {
		return fmt.Errorf("URL is required")
	}
	if config.EnableFactBulking {
		if config.BulkMaxFacts == 0 {
			config.BulkMaxFacts = DefaultBulkMaxFacts
		}
		if config.BulkTimeoutSeconds == 0 {
			config.BulkTimeoutSeconds = int(DefaultBulkTimeout / time.Second)
		}
		if config.BulkMaxFacts < 0 || config.BulkTimeoutSeconds < 0 {
			return fmt.Errorf("bulk size and timeout must be positive")
		}
	}
	return nil
}

// InitHTTPExporter initializes an HTTPExporter with the given URL, headers, timeout, and method
func InitHTTPExporter(config HTTPExporterConfig, nodeName string) (*HTTPExporter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	host, _ := os.Hostname()

	exporter := &HTTPExporter{
		Host:     host,
		NodeName: nodeName,
		config:   config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
	}
	if config.EnableFactBulking {
		exporter.bulkManager = NewFactBulkManager(
			config.BulkMaxFacts,
			time.Duration(config.BulkTimeoutSeconds)*time.Second,
			config.BulkSendQueueSize,
			config.BulkMaxRetries,
			0, 0,
			exporter.sendBulk,
		)
		exporter.bulkManager.Start()
	}
	return exporter, nil
}

// SendFact posts the fact, or queues it in the bulk of its workload when
// bulking is enabled.
func (exporter *HTTPExporter) SendFact(ctx context.Context, fact Fact) error {
	if exporter.bulkManager != nil {
		exporter.bulkManager.AddFact(fact)
		return nil
	}
	return exporter.sendFacts(ctx, []Fact{fact})
}

// Stop sends the facts still waiting in bulks.
func (exporter *HTTPExporter) Stop() {
	if exporter.bulkManager != nil {
		exporter.bulkManager.Stop()
	}
}

func (exporter *HTTPExporter) sendBulk(_ string, facts []Fact) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(exporter.config.TimeoutSeconds)*time.Second)
	defer cancel()
	return exporter.sendFacts(ctx, facts)
}

func (exporter *HTTPExporter) sendFacts(ctx context.Context, facts []Fact) error {
	factsList := HTTPFactsList{
		Kind:       "InUseFiles",
		APIVersion: "kubescape.io/v1",
		Spec: HTTPFactsListSpec{
			Host:     exporter.Host,
			NodeName: exporter.NodeName,
			Facts:    facts,
		},
	}

	bodyBytes, err := json.Marshal(factsList)
	if err != nil {
		return fmt.Errorf("failed to marshal HTTPFactsList: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, exporter.config.Method,
		exporter.config.URL+"/v1/inusefiles", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range exporter.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := exporter.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	// discard the body
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		logger.L().Debug("failed to clear response body", helpers.Error(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received non-2xx status code: %d", resp.StatusCode)
	}
	return nil
}
