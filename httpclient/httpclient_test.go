package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_Head_ReportsAcceptRanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "42")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	info, err := c.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, int64(42), info.ContentLength)
	require.True(t, info.AcceptRanges)
}

func TestClient_GetRange_SendsRangeHeaderAndParsesContentRange(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Content-Range", "bytes 10-19/100")
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := New()
	result, err := c.GetRange(context.Background(), srv.URL, 10, 19)
	require.NoError(t, err)
	defer result.Body.Close()

	require.Equal(t, "bytes=10-19", gotRange)
	require.Equal(t, http.StatusPartialContent, result.StatusCode)

	total, ok := ParseContentRange(result.ContentRange)
	require.True(t, ok)
	require.Equal(t, int64(100), total)
}

func TestParseContentRange(t *testing.T) {
	cases := []struct {
		header string
		total  int64
		ok     bool
	}{
		{"bytes 0-6/7", 7, true},
		{"bytes 20000000-29999999/30000000", 30000000, true},
		{"bytes 0-99/*", -1, false},
		{"garbage", 0, false},
	}
	for _, c := range cases {
		total, ok := ParseContentRange(c.header)
		require.Equal(t, c.ok, ok, c.header)
		if ok {
			require.Equal(t, c.total, total, c.header)
		}
	}
}
