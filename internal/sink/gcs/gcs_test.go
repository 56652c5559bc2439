package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/listing-crawler/internal/sink"
)

type upload struct {
	path string
	name string
	body string
}

// newTestSink points a storage client at a fake JSON API.
func newTestSink(t *testing.T) (*Sink, func() []upload) {
	t.Helper()

	var (
		mu      sync.Mutex
		uploads []upload
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		name := r.URL.Query().Get("name")
		mu.Lock()
		uploads = append(uploads, upload{path: r.URL.Path, name: name, body: string(body)})
		mu.Unlock()
		fmt.Fprintln(w, `{"name": "`+name+`", "bucket": "listings"}`)
	}))
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	s, err := New(client, Config{Bucket: "listings", Prefix: "/businesses/"}, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	return s, func() []upload {
		mu.Lock()
		defer mu.Unlock()
		return append([]upload(nil), uploads...)
	}
}

func TestWriteUploadsOneObject(t *testing.T) {
	t.Parallel()

	s, uploads := newTestSink(t)
	name := "Arctic Builders"
	a := &crawler.Record{SourceURL: "https://nextdoor.com/pages/a/", Name: &name}
	b := crawler.NewRecord("https://nextdoor.com/pages/b/")
	n, err := s.Write(context.Background(), []*crawler.Record{a, nil, b})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	payload, err := sink.EncodeCSV([]*crawler.Record{a, b}, true)
	require.NoError(t, err)

	got := uploads()
	require.Len(t, got, 1)
	require.Contains(t, got[0].path, "/upload/storage/v1/b/listings/o")
	require.True(t, strings.HasPrefix(got[0].name, "businesses/2026/03/04/"), got[0].name)
	require.True(t, strings.HasSuffix(got[0].name, ".csv"))
	require.Contains(t, got[0].body, "source_url,name,street")
	require.Contains(t, got[0].body, "https://nextdoor.com/pages/a/,Arctic Builders")
	require.Contains(t, got[0].body, `"sha256":"`+sha256.Hex(payload)+`"`)
	require.Contains(t, got[0].body, `"records":"2"`)
}

func TestWriteNothingSkipsUpload(t *testing.T) {
	t.Parallel()

	s, uploads := newTestSink(t)
	n, err := s.Write(context.Background(), []*crawler.Record{nil})
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, uploads())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"}, nil)
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{}, nil)
	require.Error(t, err)
}
