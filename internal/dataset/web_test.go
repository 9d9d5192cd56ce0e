package dataset

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noSleep disables retry backoff for the duration of the test
func noSleep(t *testing.T) {
	t.Helper()
	orig := fetchSleepFunc
	fetchSleepFunc = func(d time.Duration) {}
	t.Cleanup(func() { fetchSleepFunc = orig })
}

func TestFetchWithRetry_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html><body>OK</body></html>")
	}))
	defer server.Close()

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20, false, "", "", "")
	result, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html><body>OK</body></html>", result.HTML)
}

func TestFetchWithRetry_TransientThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html>OK</html>")
	}))
	defer server.Close()
	noSleep(t)

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20, false, "", "", "")
	result, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>OK</html>", result.HTML)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchWithRetry_PermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	noSleep(t)

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20, false, "", "", "")
	_, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	// 404 is not retryable, so should fail immediately
	require.Error(t, err)
	assert.Equal(t, "unexpected status: 404 404 Not Found", err.Error())
}

func TestFetchWithRetry_AllRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	noSleep(t)

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20, false, "", "", "")
	_, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	assert.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchWithRetry_429Retried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html>OK</html>")
	}))
	defer server.Close()
	noSleep(t)

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20, false, "", "", "")
	result, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>OK</html>", result.HTML)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestIsRetryableFetchError(t *testing.T) {
	tests := []struct {
		err       string
		retryable bool
	}{
		{"unexpected status: 503 Service Unavailable", true},
		{"unexpected status: 500 Internal Server Error", true},
		{"unexpected status: 502 Bad Gateway", true},
		{"unexpected status: 429 Too Many Requests", true},
		{"unexpected status: 404 Not Found", false},
		{"unexpected status: 403 Forbidden", false},
		{"unexpected status: 401 Unauthorized", false},
		{"fetch: connection refused", true},
		{"fetch: connection reset by peer", true},
		{"create request: invalid URL", false},
		{"read body: unexpected EOF", false},
	}

	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryableFetchError(fmt.Errorf("%s", tt.err)))
		})
	}
}

func TestIsRetryableFetchError_Nil(t *testing.T) {
	assert.False(t, isRetryableFetchError(nil))
}

func TestFetch_RespectsRobots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		_, _ = fmt.Fprint(w, "<html>OK</html>")
	}))
	defer server.Close()

	fetcher := NewFetcher(5*time.Second, "ragtrust/0.1", 1<<20, true, "", "", "")
	_, err := fetcher.Fetch(context.Background(), server.URL+"/wiki/Paris")
	require.NoError(t, err, "allowed page")

	_, err = fetcher.Fetch(context.Background(), server.URL+"/private/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "robots.txt")
}

func TestPageFromHTML(t *testing.T) {
	page, err := PageFromHTML(&FetchResult{
		FinalURL: "https://en.wikipedia.org/wiki/Eiffel_Tower",
		HTML: `<html><head><title>Eiffel Tower</title><script>var x = 1;</script></head>
<body><nav><p>Menu item.</p></nav>
<p>The Eiffel Tower is in Paris. It was completed in 1889.</p>
<ul><li>It is 330 m tall.</li></ul>
</body></html>`,
	})
	require.NoError(t, err)
	assert.Equal(t, "Eiffel_Tower", page.ID)
	assert.Equal(t, "0\tThe Eiffel Tower is in Paris.\n1\tIt was completed in 1889.\n2\tIt is 330 m tall.\n", page.Lines)
	assert.NotContains(t, page.Text, "Menu", "navigation leaked into text")
	assert.NotContains(t, page.Text, "var x", "script leaked into text")
}

func TestWebCorpusRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pages := []WikiPage{{ID: "Eiffel_Tower", Lines: "0\tThe Eiffel Tower is in Paris.\n"}}
	require.NoError(t, WritePages(filepath.Join(dir, "web-001.jsonl"), pages))

	corpus, err := BuildFeverCorpus(dir, nil, 0)
	require.NoError(t, err)
	require.Len(t, corpus, 1)
	assert.Equal(t, "Eiffel_Tower", corpus[0].Title)
}

func TestSubjectFromURL(t *testing.T) {
	tests := map[string]string{
		"https://en.wikipedia.org/wiki/Eiffel_Tower":    "Eiffel Tower",
		"https://example.com/":                          "example.com",
		"https://example.com/docs/getting-started.html": "getting started",
	}
	for in, want := range tests {
		assert.Equal(t, want, SubjectFromURL(in), "SubjectFromURL(%q)", in)
	}
}

func TestExtractPage_Wikipedia(t *testing.T) {
	page := `<html><head><title>Eiffel Tower - Wikipedia</title></head><body>
<h1 id="firstHeading">Eiffel Tower</h1>
<div id="mw-content-text"><div class="mw-parser-output">
<div class="hatnote">For other uses, see Eiffel Tower (disambiguation).</div>
<table class="infobox"><tr><td><p>Height 330 m</p></td></tr></table>
<p>The Eiffel Tower is a tower in Paris.<sup class="reference">[1]</sup> It opened in 1889.</p>
<h2>History<span class="mw-editsection">[edit]</span></h2>
<p>Construction began in 1887.</p>
<h2>References</h2>
<p>Cited source text.</p>
</div></div></body></html>`

	title, text, err := ExtractPage(page, "https://en.wikipedia.org/wiki/Eiffel_Tower")
	require.NoError(t, err)
	assert.Equal(t, "Eiffel Tower", title)
	assert.Equal(t, "The Eiffel Tower is a tower in Paris. It opened in 1889.\nConstruction began in 1887.", text)
}

func TestExtractors_For(t *testing.T) {
	r := NewExtractors()
	assert.Equal(t, "wikipedia", r.For("https://en.wikipedia.org/wiki/Paris").Name())
	assert.Equal(t, "generic", r.For("https://example.com/page").Name())
}

func TestExtractPage_FallbackTitle(t *testing.T) {
	title, text, err := ExtractPage(`<p>Only text.</p>`, "https://example.com/docs/Some_Page.html")
	require.NoError(t, err)
	assert.Equal(t, "Some Page", title)
	assert.Equal(t, "Only text.", text)
}
