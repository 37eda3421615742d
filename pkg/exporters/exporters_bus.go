package exporters

import (
	"context"
	"errors"
	"os"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.uber.org/multierr"
)

var ErrNoExporters = errors.New("no exporters were initialized")

type ExportersConfig struct {
	StdoutExporter      *bool               `mapstructure:"stdoutExporter"`
	HTTPExporterConfig  *HTTPExporterConfig `mapstructure:"httpExporterConfig"`
	SyslogExporter      string              `mapstructure:"syslogExporterURL"`
	CsvFactExporterPath string              `mapstructure:"csvFactExporterPath"`
}

// ExporterBus is the single point of contact for all exporters, the engine
// sends facts to every configured exporter through it.
type ExporterBus struct {
	exporters []Exporter
}

var _ Exporter = (*ExporterBus)(nil)

// InitExporters initializes all exporters.
func InitExporters(exportersConfig ExportersConfig, nodeName string) (*ExporterBus, error) {
	var exporters []Exporter
	stdoutExp := InitStdoutExporter(exportersConfig.StdoutExporter)
	if stdoutExp != nil {
		exporters = append(exporters, stdoutExp)
	}
	syslogExp := InitSyslogExporter(exportersConfig.SyslogExporter)
	if syslogExp != nil {
		exporters = append(exporters, syslogExp)
	}
	csvExp := InitCsvExporter(exportersConfig.CsvFactExporterPath)
	if csvExp != nil {
		exporters = append(exporters, csvExp)
	}
	if exportersConfig.HTTPExporterConfig == nil {
		if httpURL := os.Getenv("HTTP_ENDPOINT_URL"); httpURL != "" {
			exportersConfig.HTTPExporterConfig = &HTTPExporterConfig{URL: httpURL}
		}
	}
	if exportersConfig.HTTPExporterConfig != nil {
		httpExp, err := InitHTTPExporter(*exportersConfig.HTTPExporterConfig, nodeName)
		if err != nil {
			logger.L().Error("failed to initialize http exporter", helpers.Error(err))
		} else {
			exporters = append(exporters, httpExp)
		}
	}

	if len(exporters) == 0 {
		return nil, ErrNoExporters
	}
	logger.L().Info("exporters initialized", helpers.Int("count", len(exporters)))

	return NewExporterBus(exporters...), nil
}

func NewExporterBus(exporters ...Exporter) *ExporterBus {
	return &ExporterBus{exporters: exporters}
}

// Stop flushes the exporters that buffer facts.
func (e *ExporterBus) Stop() {
	for _, exporter := range e.exporters {
		if s, ok := exporter.(interface{ Stop() }); ok {
			s.Stop()
		}
	}
}

// SendFact sends the fact to every exporter, a failing exporter does not
// prevent delivery to the others.
func (e *ExporterBus) SendFact(ctx context.Context, fact Fact) error {
	var errs error
	for _, exporter := range e.exporters {
		errs = multierr.Append(errs, exporter.SendFact(ctx, fact))
	}
	return errs
}
