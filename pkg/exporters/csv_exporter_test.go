package exporters

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCsvExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.csv")
	csvExporter := InitCsvExporter(path)
	require.NotNil(t, csvExporter)

	require.NoError(t, csvExporter.SendFact(context.Background(), testFact()))

	csvFile, err := os.Open(path)
	require.NoError(t, err)
	defer csvFile.Close()

	records, err := csv.NewReader(csvFile).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Workload", records[0][0])
	assert.Equal(t, "container:"+testContainerID, records[1][0])
	assert.Equal(t, "default/web/nginx", records[1][2])
	assert.Equal(t, "4242", records[1][6])
	assert.Equal(t, "/etc/nginx/nginx.conf", records[1][7])
}

func TestCsvExporterDisabled(t *testing.T) {
	t.Setenv("EXPORTER_CSV_FACT_PATH", "")
	assert.Nil(t, InitCsvExporter(""))
}
