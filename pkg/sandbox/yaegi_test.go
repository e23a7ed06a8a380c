package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-chat/pkg/ingest"
)

var sales = &ingest.Table{
	Columns: []string{"region", "total"},
	Rows:    [][]string{{"EU", "10"}, {"US", "32"}},
}

const sumCode = `import (
	"fmt"
	"strconv"
)

func Analyze(columns []string, rows [][]string) (string, error) {
	sum := 0
	for _, r := range rows {
		n, err := strconv.Atoi(r[1])
		if err != nil {
			return "", err
		}
		sum += n
	}
	return fmt.Sprintf("%s sum: %d", columns[1], sum), nil
}
`

func TestRunAnalysis(t *testing.T) {
	out, err := NewYaegi().Run(context.Background(), sumCode, sales)
	require.NoError(t, err)
	assert.Equal(t, "total sum: 42", out)
}

func TestRunRejectsForbiddenImports(t *testing.T) {
	code := `import "os"

func Analyze(columns []string, rows [][]string) (string, error) {
	os.Exit(1)
	return "", nil
}`
	_, err := NewYaegi().Run(context.Background(), code, sales)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden imports")
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"syntax error", "func Analyze(columns []string { }"},
		{"missing function", "func Other() {}"},
		{"wrong signature", "func Analyze(n int) string { return \"\" }"},
		{"returned error", "import \"errors\"\n\nfunc Analyze(c []string, r [][]string) (string, error) { return \"\", errors.New(\"no data\") }"},
		{"panic", "func Analyze(c []string, r [][]string) (string, error) { return r[10][0], nil }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYaegi().Run(context.Background(), tt.code, sales)
			require.Error(t, err)
		})
	}
}

func TestRunTimeout(t *testing.T) {
	code := `import "time"

func Analyze(c []string, r [][]string) (string, error) {
	time.Sleep(time.Minute)
	return "late", nil
}`
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewYaegi().Run(ctx, code, sales)
	require.Error(t, err)
}

func TestRunCannotMutateTable(t *testing.T) {
	code := `func Analyze(c []string, r [][]string) (string, error) {
	r[0][0] = "changed"
	c[0] = "changed"
	return "ok", nil
}`
	_, err := NewYaegi().Run(context.Background(), code, sales)
	require.NoError(t, err)
	assert.Equal(t, "EU", sales.Rows[0][0])
	assert.Equal(t, "region", sales.Columns[0])
}

func TestRunNeedsTable(t *testing.T) {
	_, err := NewYaegi().Run(context.Background(), sumCode, nil)
	require.Error(t, err)
}
