package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	bytes.Buffer
	closed   bool
	writeErr error
	closeErr error
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.Buffer.Write(p)
}

// WriteString shadows the promoted bytes.Buffer method, which io.Copy would
// otherwise reach through strings.Reader.WriteTo.
func (w *recordingWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	var gotBucket, gotObject, gotType string
	store, err := newWithWriter(Config{Bucket: "reports"}, func(_ context.Context, bucket, object, contentType string) io.WriteCloser {
		gotBucket, gotObject, gotType = bucket, object, contentType
		return w
	})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "runs/crawl.csv", "text/csv", strings.NewReader("URL,Depth\n"))
	require.NoError(t, err)
	require.Equal(t, "gs://reports/runs/crawl.csv", uri)
	require.Equal(t, "reports", gotBucket)
	require.Equal(t, "runs/crawl.csv", gotObject)
	require.Equal(t, "text/csv", gotType)
	require.Equal(t, "URL,Depth\n", w.String())
	require.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	failingWrite := &recordingWriter{writeErr: errors.New("network down")}
	store, err := newWithWriter(Config{Bucket: "b"}, func(context.Context, string, string, string) io.WriteCloser {
		return failingWrite
	})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "x.csv", "", strings.NewReader("data"))
	require.ErrorContains(t, err, "copy object")
	require.ErrorContains(t, err, "network down")
	require.True(t, failingWrite.closed)
	require.Zero(t, failingWrite.Len())

	failingClose := &recordingWriter{closeErr: errors.New("finalize failed")}
	store, err = newWithWriter(Config{Bucket: "b"}, func(context.Context, string, string, string) io.WriteCloser {
		return failingClose
	})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "x.csv", "", strings.NewReader("data"))
	require.ErrorContains(t, err, "close writer")

	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("data"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = newWithWriter(Config{}, nil)
	require.Error(t, err)
}

func TestParseURI(t *testing.T) {
	t.Parallel()

	bucket, object, err := ParseURI("gs://my-bucket/reports/crawl.csv")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "reports/crawl.csv", object)

	for _, bad := range []string{"s3://b/o", "gs://bucket-only", "gs:///object", "/local/path.csv"} {
		_, _, err := ParseURI(bad)
		require.Error(t, err, bad)
	}
}
