package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/nocassist/nocassist/internal/storage"
)

func TestPutScopesKeyUnderPrefix(t *testing.T) {
	fake := &fakeBucket{}
	store := newStore(fake, "/nocassist/prod/")

	info, err := store.Put(context.Background(), "/incidents/date=2026-10-18/batch-1.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{ContentType: "application/vnd.apache.parquet"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastPutKey != "nocassist/prod/incidents/date=2026-10-18/batch-1.parquet" {
		t.Fatalf("stored key = %q", fake.lastPutKey)
	}
	if info.Key != "incidents/date=2026-10-18/batch-1.parquet" {
		t.Fatalf("returned key = %q", info.Key)
	}
	if fake.lastContentType != "application/vnd.apache.parquet" {
		t.Fatalf("content type = %q", fake.lastContentType)
	}
}

func TestObjectKeyRejectsEscapes(t *testing.T) {
	store := newStore(&fakeBucket{}, "tenant-data")
	for _, key := range []string{"", "..", "../secrets.txt", "incidents/../../x"} {
		if _, err := store.Put(context.Background(), key, bytes.NewBufferString("x"), 1, storage.PutOptions{}); err == nil {
			t.Fatalf("Put(%q) expected error", key)
		}
	}
}

func TestListStripsPrefixAndSortsKeys(t *testing.T) {
	fake := &fakeBucket{listed: []storage.ObjectInfo{
		{Key: "nocassist/prod/incidents/date=2026-10-02/batch-b.parquet", Size: 20},
		{Key: "nocassist/prod/incidents/date=2026-10-01/batch-a.parquet", Size: 10},
	}}
	store := newStore(fake, "nocassist/prod")

	infos, err := store.List(context.Background(), "incidents/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fake.lastListPrefix != "nocassist/prod/incidents/" {
		t.Fatalf("list prefix = %q", fake.lastListPrefix)
	}
	if len(infos) != 2 || infos[0].Key != "incidents/date=2026-10-01/batch-a.parquet" {
		t.Fatalf("List() = %+v", infos)
	}
}

func TestGetMapsMissingObject(t *testing.T) {
	store := newStore(&fakeBucket{getErr: storage.ErrObjectNotFound}, "")
	if _, err := store.Get(context.Background(), "incidents/missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{raw: "https://minio.example.com", wantHost: "minio.example.com", wantSecure: true},
		{raw: "http://minio:9000", useSSL: true, wantHost: "minio:9000", wantSecure: true},
		{raw: "minio:9000", wantHost: "minio:9000"},
		{raw: "ftp://minio", wantErr: true},
		{raw: "http://", wantErr: true},
	}
	for _, tc := range cases {
		host, secure, err := parseEndpoint(tc.raw, tc.useSSL)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseEndpoint(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil || host != tc.wantHost || secure != tc.wantSecure {
			t.Fatalf("parseEndpoint(%q) = %q, %v, %v", tc.raw, host, secure, err)
		}
	}
}

type fakeBucket struct {
	lastPutKey      string
	lastContentType string
	lastListPrefix  string
	listed          []storage.ObjectInfo
	getErr          error
}

func (f *fakeBucket) put(_ context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	f.lastPutKey = key
	f.lastContentType = contentType
	_, _ = io.Copy(io.Discard, body)
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (f *fakeBucket) get(_ context.Context, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return io.NopCloser(strings.NewReader(key)), nil
}

func (f *fakeBucket) list(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	f.lastListPrefix = prefix
	return append([]storage.ObjectInfo(nil), f.listed...), nil
}

func (f *fakeBucket) ensure(context.Context, string) error {
	return nil
}
