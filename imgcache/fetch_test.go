package imgcache

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherReturnsBodyAndContentType(t *testing.T) {
	body := []byte{0x89, 'P', 'N', 'G', '\r', '\n'}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client())
	data, ctype, err := f.Fetch(context.Background(), ts.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, "image/png", ctype)
}

func TestHTTPFetcherNonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client())
	_, _, err := f.Fetch(context.Background(), ts.URL+"/missing.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestHTTPFetcherSniffsMissingContentType(t *testing.T) {
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0}, 32)...)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Suppress the Content-Type header so the fetcher has to sniff.
		w.Header()["Content-Type"] = nil
		w.Write(jpeg)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client())
	_, ctype, err := f.Fetch(context.Background(), ts.URL+"/photo")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ctype)
}

func TestHTTPFetcherRejectsOversizedBody(t *testing.T) {
	big := bytes.Repeat([]byte{'a'}, maxImageBytes+1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(big)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client())
	_, _, err := f.Fetch(context.Background(), ts.URL+"/huge.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncode)
}

func TestHTTPFetcherBadURL(t *testing.T) {
	f := NewHTTPFetcher(nil)
	_, _, err := f.Fetch(context.Background(), "://not-a-url")
	assert.Error(t, err)
}
