package wheeltester

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func buildArchive(t *testing.T, results Results) []byte {
	t.Helper()

	var jsonBuf bytes.Buffer
	require.NoError(t, json.NewEncoder(&jsonBuf).Encode(results))

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, err = xw.Write(jsonBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	member, err := zw.Create("wheel-results.json.xz")
	require.NoError(t, err)
	_, err = member.Write(xzBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return zipBuf.Bytes()
}

func newArchiveServer(t *testing.T, results Results) *Client {
	t.Helper()
	payload := buildArchive(t, results)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/geoffreyblake/arm64-python-wheel-tester/actions/workflows/wheel-test.yaml/runs",
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "success", r.URL.Query().Get("status"))
			fmt.Fprint(w, `{"total_count":1,"workflow_runs":[{"id":101}]}`)
		})
	mux.HandleFunc("/api/v3/repos/geoffreyblake/arm64-python-wheel-tester/actions/runs/101/artifacts",
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"total_count":2,"artifacts":[
				{"id":7,"name":"logs"},
				{"id":9,"name":"wheel-results"}
			]}`)
		})
	var baseURL string
	mux.HandleFunc("/api/v3/repos/geoffreyblake/arm64-python-wheel-tester/actions/artifacts/9/zip",
		func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, baseURL+"/download/results.zip", http.StatusFound)
		})
	mux.HandleFunc("/download/results.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	baseURL = srv.URL

	gh, err := github.NewClient(srv.Client()).WithEnterpriseURLs(srv.URL, srv.URL)
	require.NoError(t, err)
	return NewClientWithGitHub(gh, srv.Client())
}

func sampleResults() Results {
	return Results{
		"numpy": {
			"noble": {TestPassed: true, BuildRequired: false},
			"jammy": {TestPassed: true, BuildRequired: true},
		},
		"broken-pkg": {
			"noble": {TestPassed: false},
			"jammy": {TestPassed: false},
		},
	}
}

func TestLookup(t *testing.T) {
	c := newArchiveServer(t, sampleResults())
	ctx := context.Background()

	envs, ok := c.Lookup(ctx, "numpy")
	require.True(t, ok)
	assert.True(t, envs["noble"].TestPassed)
	assert.True(t, envs["jammy"].BuildRequired)

	_, ok = c.Lookup(ctx, "missing-pkg")
	assert.False(t, ok)
	assert.True(t, c.Available(ctx))
}

func TestFetchOnlyOnce(t *testing.T) {
	c := newArchiveServer(t, sampleResults())
	ctx := context.Background()

	c.Lookup(ctx, "numpy")
	// Second lookup must not hit the network; drop the transport to prove it.
	c.gh = nil
	c.httpClient = nil
	_, ok := c.Lookup(ctx, "broken-pkg")
	assert.True(t, ok)
}

func TestNoTokenMeansUnavailable(t *testing.T) {
	c := NewClient("")
	assert.False(t, c.Available(context.Background()))
	_, ok := c.Lookup(context.Background(), "numpy")
	assert.False(t, ok)
}

func TestFailureCachedAsAbsent(t *testing.T) {
	mux := http.NewServeMux() // every endpoint 404s
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	gh, err := github.NewClient(srv.Client()).WithEnterpriseURLs(srv.URL, srv.URL)
	require.NoError(t, err)
	c := NewClientWithGitHub(gh, srv.Client())

	assert.False(t, c.Available(context.Background()))
	// Cached failure: no panic even after dropping the clients.
	c.gh = nil
	assert.False(t, c.Available(context.Background()))
}

func TestParseArchive(t *testing.T) {
	payload := buildArchive(t, sampleResults())
	results, err := parseArchive(payload)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.True(t, results["numpy"]["noble"].TestPassed)

	_, err = parseArchive([]byte("not a zip"))
	assert.Error(t, err)
}
