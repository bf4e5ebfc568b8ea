package advisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/verdict/pkg/fetch"
)

func TestContextAdvisor_MaterializesInlineAndHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote document"))
	}))
	defer server.Close()

	workspace := t.TempDir()
	agent := newTestModel(t, &fakeTransport{result: successQueryResult("ok")})

	gatherer, err := NewContextAdvisor(ContextAdvisorConfig{
		References: []Reference{
			{Kind: ReferenceInline, Name: "notes.md", Content: "inline notes"},
			{Kind: ReferenceHTTP, Name: "doc.md", Location: server.URL + "/doc"},
		},
		Fetcher: fetch.NewClient(fetch.ClientConfig{}),
	})
	require.NoError(t, err)

	chain, err := NewCallChain(agent, gatherer)
	require.NoError(t, err)

	req := &CallRequest{Goal: "g", WorkingDirectory: workspace, Context: map[string]any{}}
	_, err = chain.NextCall(context.Background(), req)
	require.NoError(t, err)

	contextDir := filepath.Join(workspace, ".agents", "context")
	notes, err := os.ReadFile(filepath.Join(contextDir, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "inline notes", string(notes))

	doc, err := os.ReadFile(filepath.Join(contextDir, "doc.md"))
	require.NoError(t, err)
	assert.Equal(t, "remote document", string(doc))

	gathered, ok := req.Context[ContextKeyGatheredFiles].([]string)
	require.True(t, ok)
	assert.Len(t, gathered, 2)
	assert.NotContains(t, req.Context, ContextKeyGatherErrors)
}

func TestContextAdvisor_FailuresDoNotAbortCall(t *testing.T) {
	workspace := t.TempDir()
	agent := newTestModel(t, &fakeTransport{result: successQueryResult("ok")})

	gatherer, err := NewContextAdvisor(ContextAdvisorConfig{
		References: []Reference{
			{Kind: ReferenceHTTP, Name: "broken.md", Location: "http://127.0.0.1:1/unreachable"},
			{Kind: ReferenceInline, Name: "good.md", Content: "still works"},
		},
		Fetcher: fetch.NewClient(fetch.ClientConfig{}),
	})
	require.NoError(t, err)

	chain, err := NewCallChain(agent, gatherer)
	require.NoError(t, err)

	req := &CallRequest{Goal: "g", WorkingDirectory: workspace, Context: map[string]any{}}
	resp, err := chain.NextCall(context.Background(), req)
	require.NoError(t, err, "gather failures must not abort the call")
	assert.True(t, resp.IsSuccessful())

	errs, ok := req.Context[ContextKeyGatherErrors].([]string)
	require.True(t, ok)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "broken.md")

	_, statErr := os.Stat(filepath.Join(workspace, ".agents", "context", "good.md"))
	assert.NoError(t, statErr)
}

func TestContextAdvisor_Cleanup(t *testing.T) {
	workspace := t.TempDir()
	agent := newTestModel(t, &fakeTransport{result: successQueryResult("ok")})

	gatherer, err := NewContextAdvisor(ContextAdvisorConfig{
		References: []Reference{{Kind: ReferenceInline, Name: "temp.md", Content: "x"}},
		Cleanup:    true,
	})
	require.NoError(t, err)

	chain, err := NewCallChain(agent, gatherer)
	require.NoError(t, err)

	_, err = chain.NextCall(context.Background(), &CallRequest{Goal: "g", WorkingDirectory: workspace})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(workspace, ".agents", "context"))
	assert.True(t, os.IsNotExist(statErr), "context directory is removed after the call")
}

func TestNewContextAdvisor_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  ContextAdvisorConfig
	}{
		{"missing name", ContextAdvisorConfig{References: []Reference{{Kind: ReferenceInline}}}},
		{"path traversal", ContextAdvisorConfig{References: []Reference{{Kind: ReferenceInline, Name: "../escape"}}}},
		{"absolute path", ContextAdvisorConfig{References: []Reference{{Kind: ReferenceInline, Name: "/abs"}}}},
		{"git without location", ContextAdvisorConfig{References: []Reference{{Kind: ReferenceGit, Name: "repo"}}}},
		{"http without fetcher", ContextAdvisorConfig{References: []Reference{{Kind: ReferenceHTTP, Name: "d", Location: "http://x"}}}},
		{"unknown kind", ContextAdvisorConfig{References: []Reference{{Kind: "carrier-pigeon", Name: "d"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewContextAdvisor(tt.cfg)
			assert.Error(t, err)
		})
	}
}
