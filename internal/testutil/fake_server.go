package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// RecordedRequest is a request received by a FakeServer
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// JSON decodes the recorded body into v
func (r RecordedRequest) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// FakeResponse is a canned reply. Body may be a string, []byte or any JSON-encodable value.
type FakeResponse struct {
	Status  int
	Body    interface{}
	Headers map[string]string
}

// FakeServer is an httptest server that plays Fabric, Power BI, Graph or Databricks
// in tests. Routes match on method and exact path; unmatched requests get a 404
// with a Fabric-style error body.
type FakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewFakeServer starts a fake server closed when the test ends
func NewFakeServer(t *testing.T) *FakeServer {
	f := &FakeServer{routes: make(map[string]http.HandlerFunc)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func routeKey(method, path string) string {
	return method + " " + path
}

func (f *FakeServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	handler, ok := f.routes[routeKey(r.Method, r.URL.Path)]
	f.mu.Unlock()

	if !ok {
		writeResponse(w, FakeResponse{
			Status: http.StatusNotFound,
			Body: map[string]string{
				"errorCode": "EntityNotFound",
				"message":   fmt.Sprintf("no fake route for %s %s", r.Method, r.URL.Path),
			},
		})
		return
	}

	r.Body = io.NopCloser(strings.NewReader(string(body)))
	handler(w, r)
}

// Handle registers a handler for method and path
func (f *FakeServer) Handle(method, path string, handler http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[routeKey(method, path)] = handler
}

// Reply registers a fixed response
func (f *FakeServer) Reply(method, path string, status int, body interface{}) {
	f.Sequence(method, path, FakeResponse{Status: status, Body: body})
}

// Sequence registers successive responses; the last one repeats
func (f *FakeServer) Sequence(method, path string, responses ...FakeResponse) {
	var mu sync.Mutex
	calls := 0
	f.Handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		i := calls
		if i >= len(responses) {
			i = len(responses) - 1
		}
		calls++
		mu.Unlock()
		writeResponse(w, responses[i])
	})
}

// Requests returns the recorded requests for method and path.
// An empty method matches every method.
func (f *FakeServer) Requests(method, path string) []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []RecordedRequest
	for _, r := range f.requests {
		if (method == "" || r.Method == method) && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many requests hit method and path
func (f *FakeServer) Count(method, path string) int {
	return len(f.Requests(method, path))
}

// AllRequests returns every recorded request in arrival order
func (f *FakeServer) AllRequests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// MutatingRequests returns every recorded request other than GET
func (f *FakeServer) MutatingRequests() []RecordedRequest {
	var out []RecordedRequest
	for _, r := range f.AllRequests() {
		if r.Method != http.MethodGet {
			out = append(out, r)
		}
	}
	return out
}

// WriteJSON writes a canned response; handlers registered with Handle can use it too
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	writeResponse(w, FakeResponse{Status: status, Body: body})
}

func writeResponse(w http.ResponseWriter, resp FakeResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}

	var data []byte
	switch b := resp.Body.(type) {
	case nil:
	case string:
		data = []byte(b)
	case []byte:
		data = b
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			panic(err)
		}
		data = encoded
		w.Header().Set("Content-Type", "application/json")
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
