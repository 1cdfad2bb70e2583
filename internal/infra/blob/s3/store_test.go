package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"relinfer/internal/blob/core"
)

func putString(t *testing.T, s *Store, key, body string) core.Info {
	t.Helper()
	info, err := s.Put(context.Background(), key, strings.NewReader(body), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"scenario": "heights"},
	})
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
	return info
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()
	if s.Driver() != core.DriverS3 || s.Bucket() != mockBucketName {
		t.Fatalf("unexpected store identity")
	}
	info := putString(t, s, "checkpoints/r1.json", `{"bindings":[]}`)
	if info.ContentType != "application/json" || info.Size != int64(len(`{"bindings":[]}`)) || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	got, rc, err := s.Get(ctx, "checkpoints/r1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"bindings":[]}` || got.ETag != info.ETag {
		t.Fatalf("unexpected object %q %+v", body, got)
	}
	if _, _, err := s.Get(ctx, "checkpoints/nope.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	s := NewMockForTests()
	first := putString(t, s, "checkpoints/r1.json", `{"step":1}`)
	_, err := s.Put(context.Background(), "checkpoints/r1.json", strings.NewReader(`{"step":2}`), core.PutOptions{})
	if !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists on overwrite, got %v", err)
	}
	got, rc, err := s.Get(context.Background(), "checkpoints/r1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"step":1}` || got.ETag != first.ETag {
		t.Fatalf("rejected put replaced the object: %q", body)
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	s := NewMockForTests()
	putString(t, s, "checkpoints/r1.json", `{}`)
	for i, want := range []bool{true, false} {
		existed, err := s.Delete(context.Background(), "checkpoints/r1.json")
		if err != nil || existed != want {
			t.Fatalf("delete %d = (%v, %v), want %v", i, existed, err, want)
		}
	}
	putString(t, s, "checkpoints/r1.json", `{}`)
}

func TestListFiltersPrefixAcrossPages(t *testing.T) {
	s, bucket := newMockStore(2)
	var want []string
	for i := 5; i >= 1; i-- {
		key := fmt.Sprintf("checkpoints/run-%d.json", i)
		putString(t, s, key, `{}`)
		want = append([]string{key}, want...)
	}
	putString(t, s, "exports/run-1.csv", "x")

	infos, err := s.List(context.Background(), "checkpoints/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	if bucket.lists != 3 {
		t.Fatalf("served %d pages, want 3", bucket.lists)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	s, err := New(context.Background(), Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "id", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Bucket() != "b" {
		t.Fatalf("unexpected bucket")
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	framed := "4;chunk-signature=aa\r\n{\"a\"\r\n2;chunk-signature=bb\r\n:1\r\n0;chunk-signature=cc\r\nx-amz-checksum-crc32:AAAAAA==\r\n\r\n"
	got, err := decodeAWSChunked([]byte(framed))
	if err != nil || string(got) != `{"a":1` {
		t.Fatalf("decode = %q, %v", got, err)
	}
	if _, err := decodeAWSChunked([]byte("9\r\nabc\r\n")); err == nil {
		t.Fatalf("expected short chunk error")
	}
	if _, err := decodeAWSChunked([]byte("zz\r\n")); err == nil {
		t.Fatalf("expected size error")
	}
}

func TestMemBucketRejectsForeignRequests(t *testing.T) {
	_, bucket := newMockStore(10)
	for _, tc := range []struct {
		method, url string
		status      int
	}{
		{http.MethodPatch, "https://bucket.test/" + mockBucketName + "/k", http.StatusMethodNotAllowed},
		{http.MethodGet, "https://bucket.test/other-bucket/k", http.StatusNotFound},
		{http.MethodPost, "https://bucket.test/" + mockBucketName, http.StatusMethodNotAllowed},
	} {
		req, _ := http.NewRequest(tc.method, tc.url, bytes.NewReader(nil))
		resp, err := bucket.RoundTrip(req)
		if err != nil || resp.StatusCode != tc.status {
			t.Fatalf("%s %s = %v %v, want %d", tc.method, tc.url, resp, err, tc.status)
		}
	}
}
