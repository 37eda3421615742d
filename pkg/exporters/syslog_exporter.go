package exporters

import (
	"context"
	"fmt"
	"log/syslog"
	"os"

	"github.com/crewjam/rfc5424"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

const syslogAppName = "inuse-agent"

// SyslogExporter is an exporter that sends facts to syslog
type SyslogExporter struct {
	writer   *syslog.Writer
	hostname string
}

// InitSyslogExporter initializes a new SyslogExporter
func InitSyslogExporter(syslogHost string) *SyslogExporter {
	if syslogHost == "" {
		syslogHost = os.Getenv("SYSLOG_HOST")
		if syslogHost == "" {
			return nil
		}
	}

	protocol := os.Getenv("SYSLOG_PROTOCOL")
	if protocol == "" {
		protocol = "udp"
	}

	writer, err := syslog.Dial(protocol, syslogHost, syslog.LOG_INFO, syslogAppName)
	if err != nil {
		logger.L().Warning("failed to initialize syslog exporter", helpers.String("host", syslogHost), helpers.Error(err))
		return nil
	}
	hostname, _ := os.Hostname()

	return &SyslogExporter{
		writer:   writer,
		hostname: hostname,
	}
}

// SendFact sends a fact to syslog (RFC 5424) - https://tools.ietf.org/html/rfc5424
func (se *SyslogExporter) SendFact(_ context.Context, fact Fact) error {
	message := rfc5424.Message{
		Priority:  rfc5424.Info,
		Timestamp: fact.Timestamp,
		Hostname:  se.hostname,
		AppName:   syslogAppName,
		ProcessID: fmt.Sprintf("%d", fact.Pid),
		StructuredData: []rfc5424.StructuredData{
			{
				ID: "inuse@32473",
				Parameters: []rfc5424.SDParam{
					{
						Name:  "workload",
						Value: fact.Workload.Key(),
					},
					{
						Name:  "kind",
						Value: string(fact.Workload.Kind),
					},
					{
						Name:  "cgroup",
						Value: fact.Workload.CgroupPath,
					},
					{
						Name:  "container_name",
						Value: fact.workloadName(),
					},
					{
						Name:  "image",
						Value: fact.image(),
					},
					{
						Name:  "runtime",
						Value: fact.runtime(),
					},
				},
			},
		},
		Message: []byte(fact.Path),
	}

	if _, err := message.WriteTo(se.writer); err != nil {
		return fmt.Errorf("failed to send fact to syslog: %w", err)
	}
	return nil
}
