package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lakedeploy/internal/common"
)

// TestHelper provides common test utilities
type TestHelper struct {
	t *testing.T
}

// NewTestHelper creates a new test helper
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// WriteFile writes content to a file in the given directory
func (h *TestHelper) WriteFile(dir, filename, content string) string {
	return h.WriteBytes(dir, filename, []byte(content))
}

// WriteBytes writes binary content to a file in the given directory
func (h *TestHelper) WriteBytes(dir, filename string, content []byte) string {
	h.t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(filename))

	if err := os.MkdirAll(filepath.Dir(path), common.DirPermissionNormal); err != nil {
		h.t.Fatalf("Failed to create directories: %v", err)
	}
	if err := os.WriteFile(path, content, common.FilePermissionNormal); err != nil {
		h.t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// CreateArtifactTree lays out a minimal artifact source: notebooks per binding
// directory, sample CSVs, a report, an environment.yml and an agent definition
func (h *TestHelper) CreateArtifactTree(dir string) {
	h.WriteFile(dir, "notebooks/bronze_to_silver/customer_bronze_to_silver.ipynb", NotebookJSON("print('{{WORKSPACE_NAME}}')"))
	h.WriteFile(dir, "notebooks/silver_to_gold/customer_silver_to_gold.ipynb", NotebookJSON("print('gold')"))
	h.WriteFile(dir, "notebooks/runners/run_bronze_to_silver.ipynb", NotebookJSON("%run customer_bronze_to_silver"))
	h.WriteFile(dir, "notebooks/runners/run_silver_to_gold.ipynb", NotebookJSON("%run customer_silver_to_gold"))
	h.WriteFile(dir, "data/samples/shared/customer.csv", "CustomerId,Name\n1,Contoso\n")
	h.WriteFile(dir, "data/samples/sales/order.csv", "OrderId,CustomerId\n10,1\n")
	h.WriteBytes(dir, "reports/Sales Overview.pbix", []byte("PK\x03\x04fake-pbix"))
	h.WriteFile(dir, "environment/environment.yml", "dependencies:\n  - pip:\n    - semantic-link\n")
	h.WriteFile(dir, "agent/Files/Config/data_agent.json", `{"workspaceId":"{{WORKSPACE_ID}}","lakehouse":"{{GOLD_LAKEHOUSE_ID}}"}`)
	h.WriteFile(dir, "agent/Files/Config/draft/stage_config.json", `{"aiInstructions":"Answer questions about {{WORKSPACE_NAME}} sales"}`)
}

// NotebookJSON returns a one-cell ipynb document
func NotebookJSON(source string) string {
	return `{"nbformat":4,"nbformat_minor":5,"metadata":{"language_info":{"name":"python"}},` +
		`"cells":[{"cell_type":"code","metadata":{},"source":[` + quote(source) + `],"outputs":[],"execution_count":null}]}`
}

func quote(s string) string {
	out := []byte{'"'}
	for _, r := range []byte(s) {
		switch r {
		case '"', '\\':
			out = append(out, '\\', r)
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, r)
		}
	}
	return string(append(out, '"'))
}

// CaptureOutput captures stdout and stderr during function execution
func (h *TestHelper) CaptureOutput(f func()) (stdout, stderr string) {
	oldStdout := os.Stdout
	rOut, wOut, _ := os.Pipe()
	os.Stdout = wOut

	oldStderr := os.Stderr
	rErr, wErr, _ := os.Pipe()
	os.Stderr = wErr

	outC := make(chan []byte)
	errC := make(chan []byte)
	go func() { b, _ := io.ReadAll(rOut); outC <- b }()
	go func() { b, _ := io.ReadAll(rErr); errC <- b }()

	defer func() {
		os.Stdout = oldStdout
		os.Stderr = oldStderr
	}()
	f()

	wOut.Close()
	wErr.Close()
	return string(<-outC), string(<-errC)
}

// WaitFor waits for a condition to be true within a timeout
func (h *TestHelper) WaitFor(condition func() bool, timeout time.Duration, message string) {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}

		<-ticker.C
		if time.Now().After(deadline) {
			h.t.Fatalf("Timeout waiting for: %s", message)
		}
	}
}
