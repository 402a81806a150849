package troubleshoot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/util"
)

func sampleEvents() []meraki.Event {
	return []meraki.Event{
		{OccurredAt: "2026-10-01T10:00:00.123456Z", Type: "dhcp_lease", Description: "DHCP lease", ClientDescription: "laptop-1", EventData: map[string]any{"ip": "10.0.10.5", "vlan": "10"}},
		{OccurredAt: "2026-10-01T10:05:00Z", Type: "cf_block", Description: "Content filtering blocked URL", ClientID: "k1", EventData: map[string]any{"url": "http://Example.test/ads"}},
		{OccurredAt: "2026-10-01T10:06:00Z", Type: "dhcp_lease", Description: "DHCP lease", ClientDescription: "printer", EventData: map[string]any{"ip": "10.0.20.9", "vlan": 20.0}},
		{OccurredAt: "2026-10-01T10:07:00Z", Description: "untyped"},
	}
}

func TestEventTypes(t *testing.T) {
	assert.Equal(t, []string{"cf_block", "dhcp_lease", UnknownType}, EventTypes(sampleEvents()))
	assert.Empty(t, EventTypes(nil))
}

func TestFilter(t *testing.T) {
	events := sampleEvents()

	assert.Len(t, Filter(events, "dhcp_lease", ""), 2)

	got := Filter(events, "dhcp_lease", " PRINTER , nothing")
	require.Len(t, got, 1)
	assert.Equal(t, "printer", got[0].ClientDescription)

	assert.Len(t, Filter(events, "cf_block", "example.test"), 1)
	assert.Empty(t, Filter(events, "cf_block", "other"))
	assert.Empty(t, Filter(events, "dhcp_problem", ""))
}

func TestPages(t *testing.T) {
	events := make([]meraki.Event, 23)
	pages := Pages(events, 0)
	require.Len(t, pages, 3)
	assert.Len(t, pages[0], PageSize)
	assert.Len(t, pages[2], 3)
}

func TestRows(t *testing.T) {
	headers, rows := Rows("dhcp_lease", Filter(sampleEvents(), "dhcp_lease", ""))
	assert.Equal(t, []string{"Time", "Client", "IP", "VLAN", "Duration", "DNS"}, headers)
	assert.Equal(t, []string{"2026-10-01T10:00:00", "laptop-1", "10.0.10.5", "10", "N/A", "N/A"}, rows[0])
	assert.Equal(t, "20", rows[1][3])

	_, rows = Rows("cf_block", Filter(sampleEvents(), "cf_block", ""))
	assert.Equal(t, "k1", rows[0][3])
}

func TestRowsGeneric(t *testing.T) {
	headers, rows := Rows("vrrp", []meraki.Event{{OccurredAt: "2026-10-01T10:00:00Z", Type: "vrrp", DeviceSerial: "Q2XX-1"}})
	assert.Equal(t, "eventData", headers[len(headers)-1])
	assert.Equal(t, []string{"2026-10-01T10:00:00Z", "vrrp", "", "N/A", "N/A", "Q2XX-1", "{}"}, rows[0])
}

func TestLoadKnowledgeCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "kb.yaml")

	kb, created, err := LoadKnowledge(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, DefaultKnowledge(), kb)
	assert.FileExists(t, path)

	kb, created, err = LoadKnowledge(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, DefaultKnowledge(), kb)
}

func TestLoadKnowledgeRejectsList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- cf_block\n- dhcp_lease\n"), 0o644))

	_, _, err := LoadKnowledge(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrValidationFailed))
}

func TestMatch(t *testing.T) {
	kb := KnowledgeBase{
		"printer": {Recommendation: "check the printer"},
		"laptop":  {Recommendation: "check the laptop"},
	}
	keyword, entry, ok := kb.Match(sampleEvents())
	require.True(t, ok)
	assert.Equal(t, "laptop", keyword)
	assert.Equal(t, "check the laptop", entry.Recommendation)

	_, _, ok = kb.Match([]meraki.Event{{Type: "vrrp"}})
	assert.False(t, ok)
}

func TestPrompt(t *testing.T) {
	events := make([]meraki.Event, 12)
	for i := range events {
		events[i] = meraki.Event{Type: "dhcp_problem", Description: "event"}
	}
	prompt, err := Prompt("dhcp_problem", events)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "These are filtered Meraki MX event logs of type 'dhcp_problem':\n["))
	assert.True(t, strings.HasSuffix(prompt, tasks["dhcp_problem"]))
	assert.Equal(t, 10, strings.Count(prompt, `"description": "event"`))

	prompt, err = Prompt("vrrp", events[:1])
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(prompt, genericTask))
}

// chatServer answers chat completions, failing for the models in reject.
func chatServer(t *testing.T, reject ...string) (*httptest.Server, *[]string) {
	t.Helper()
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model       string  `json:"model"`
			MaxTokens   int     `json:"max_tokens"`
			Temperature float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		models = append(models, req.Model)
		w.Header().Set("Content-Type", "application/json")
		for _, m := range reject {
			if m == req.Model {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error"}}`))
				return
			}
		}
		if req.MaxTokens != DefaultMaxTokens || req.Messages[0].Content != SystemPrompt {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": "Lease pool is nearly exhausted."},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &models
}

func TestLLMFallsBackToSecondModel(t *testing.T) {
	srv, models := chatServer(t, "gpt-4")
	llm, err := NewLLM(LLMConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	res, err := llm.Classify(context.Background(), "dhcp_lease", sampleEvents()[:1])
	require.NoError(t, err)
	assert.Equal(t, SourceLLM, res.Source)
	assert.Equal(t, "gpt-3.5-turbo", res.Model)
	assert.Equal(t, "Lease pool is nearly exhausted.", res.Text)
	assert.Equal(t, []string{"gpt-4", "gpt-3.5-turbo"}, *models)
}

func TestLLMAllModelsFail(t *testing.T) {
	srv, _ := chatServer(t, "gpt-4", "gpt-3.5-turbo")
	llm, err := NewLLM(LLMConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = llm.Classify(context.Background(), "dhcp_lease", sampleEvents()[:1])
	assert.Error(t, err)
}

func TestNewLLMRequiresKey(t *testing.T) {
	_, err := NewLLM(LLMConfig{})
	assert.True(t, errors.Is(err, util.ErrValidationFailed))
}

type stubClassifier struct {
	calls int
	res   *Analysis
}

func (s *stubClassifier) Classify(context.Context, string, []meraki.Event) (*Analysis, error) {
	s.calls++
	return s.res, nil
}

func TestAssistant(t *testing.T) {
	ctx := context.Background()
	events := sampleEvents()
	fallback := &stubClassifier{res: &Analysis{Source: SourceLLM, Text: "from model"}}

	t.Run("offline match skips fallback", func(t *testing.T) {
		a := &Assistant{Offline: &Offline{KB: DefaultKnowledge()}, Fallback: fallback}
		res, err := a.Analyze(ctx, "dhcp_lease", events)
		require.NoError(t, err)
		assert.Equal(t, SourceOffline, res.Source)
		assert.Equal(t, "cf_block", res.Keyword)
		assert.Zero(t, fallback.calls)
	})

	t.Run("declined consent", func(t *testing.T) {
		a := &Assistant{
			Offline:  &Offline{KB: KnowledgeBase{}},
			Fallback: fallback,
			Consent:  func(context.Context) (bool, error) { return false, nil },
		}
		_, err := a.Analyze(ctx, "dhcp_lease", events)
		assert.ErrorIs(t, err, ErrNoMatch)
		assert.Zero(t, fallback.calls)
	})

	t.Run("consent runs fallback", func(t *testing.T) {
		a := &Assistant{
			Offline:  &Offline{KB: KnowledgeBase{}},
			Fallback: fallback,
			Consent:  func(context.Context) (bool, error) { return true, nil },
		}
		res, err := a.Analyze(ctx, "dhcp_lease", events)
		require.NoError(t, err)
		assert.Equal(t, "from model", res.Text)
		assert.Equal(t, 1, fallback.calls)
	})

	t.Run("no events", func(t *testing.T) {
		_, err := (&Assistant{}).Analyze(ctx, "dhcp_lease", nil)
		assert.ErrorIs(t, err, ErrNoMatch)
	})
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	path, err := Export(dir, sampleEvents()[:2], now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "filtered_events_20261014_093000.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []meraki.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Len(t, got, 2)
}
