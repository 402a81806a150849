package resources

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/merakimate/merakimate/pkg/meraki"
)

type request struct {
	Method string
	Path   string
	Body   any
}

// fakeAPI serves canned GET documents and records every other call.
// A non-zero status from reject answers the call without recording it.
type fakeAPI struct {
	mu       sync.Mutex
	docs     map[string]string
	requests []request
	reject   func(req request, seen []request) int
}

func newFakeAPI(t *testing.T, docs map[string]string) (*fakeAPI, *meraki.Client) {
	t.Helper()
	f := &fakeAPI{docs: docs}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, meraki.NewClient("test-token", meraki.WithBaseURL(srv.URL))
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method == http.MethodGet {
		doc, ok := f.docs[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"errors":["Not found"]}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, doc)
		return
	}

	req := request{Method: r.Method, Path: r.URL.Path}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = meraki.Decode(data, &req.Body)
	}
	if f.reject != nil {
		if code := f.reject(req, f.requests); code != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			io.WriteString(w, `{"errors":["rejected"]}`)
			return
		}
	}
	f.requests = append(f.requests, req)
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, "{}")
}

func (f *fakeAPI) calls(method string) []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []request
	for _, r := range f.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// decode parses a JSON literal the way the client does.
func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := meraki.Decode([]byte(s), &v); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return v
}

func compactJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(data))
}
