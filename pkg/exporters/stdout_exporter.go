package exporters

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
)

type StdoutExporter struct {
	logger *log.Logger
}

func InitStdoutExporter(useStdout *bool) *StdoutExporter {
	if useStdout == nil {
		useStdout = new(bool)
		*useStdout = os.Getenv("STDOUT_ENABLED") != "false"
	}
	if !*useStdout {
		return nil
	}

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{FieldMap: log.FieldMap{log.FieldKeyMsg: "path"}})
	logger.SetOutput(os.Stdout)

	return &StdoutExporter{
		logger: logger,
	}
}

func (exporter *StdoutExporter) SendFact(_ context.Context, fact Fact) error {
	exporter.logger.WithFields(log.Fields{
		"workload":  fact.Workload.Key(),
		"kind":      fact.Workload.Kind,
		"cgroup":    fact.Workload.CgroupPath,
		"runtime":   fact.Workload.Runtime,
		"container": fact.Workload.ContainerID,
		"pid":       fact.Pid,
		"seen":      fact.Timestamp,
	}).Info(fact.Path)
	return nil
}
