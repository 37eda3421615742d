package exporters

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

// CsvExporter is an exporter that appends facts to a csv file
type CsvExporter struct {
	mu          sync.Mutex
	CsvFactPath string
}

// InitCsvExporter initializes a new CsvExporter
func InitCsvExporter(csvFactPath string) *CsvExporter {
	if csvFactPath == "" {
		csvFactPath = os.Getenv("EXPORTER_CSV_FACT_PATH")
		if csvFactPath == "" {
			return nil
		}
	}

	if _, err := os.Stat(csvFactPath); os.IsNotExist(err) {
		if err := writeFactHeaders(csvFactPath); err != nil {
			logger.L().Warning("failed to initialize csv exporter", helpers.String("path", csvFactPath), helpers.Error(err))
			return nil
		}
	}

	return &CsvExporter{
		CsvFactPath: csvFactPath,
	}
}

func (ce *CsvExporter) SendFact(_ context.Context, fact Fact) error {
	ce.mu.Lock()
	defer ce.mu.Unlock()

	csvFile, err := os.OpenFile(ce.CsvFactPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open csv file: %w", err)
	}
	defer csvFile.Close()

	csvWriter := csv.NewWriter(csvFile)
	if err := csvWriter.Write([]string{
		fact.Workload.Key(),
		string(fact.Workload.Kind),
		fact.workloadName(),
		fact.image(),
		fact.runtime(),
		fact.Workload.CgroupPath,
		fmt.Sprintf("%d", fact.Pid),
		fact.Path,
		fact.Timestamp.Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func writeFactHeaders(csvPath string) error {
	csvFile, err := os.OpenFile(csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer csvFile.Close()

	csvWriter := csv.NewWriter(csvFile)
	if err := csvWriter.Write([]string{
		"Workload",
		"Kind",
		"Name",
		"Image",
		"Runtime",
		"Cgroup",
		"PID",
		"Path",
		"Timestamp",
	}); err != nil {
		return err
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
