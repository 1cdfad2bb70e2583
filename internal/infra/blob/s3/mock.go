package s3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	mockBucketName = "checkpoints-test"
	mockPageSize   = 1000
)

// NewMockForTests returns a Store whose client talks to an in-process
// bucket with the semantics checkpoints depend on: conditional create-only
// PUT, 404 for missing keys and prefix-filtered ListObjectsV2 pages.
func NewMockForTests() *Store {
	s, _ := newMockStore(mockPageSize)
	return s
}

func newMockStore(pageSize int) (*Store, *memBucket) {
	b := &memBucket{
		name:     mockBucketName,
		objects:  make(map[string]memObject),
		pageSize: pageSize,
		now:      func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: b}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://bucket.test")
	})
	return &Store{client: client, bucket: b.name}, b
}

type memObject struct {
	body        []byte
	contentType string
	metadata    http.Header
	etag        string
	modified    time.Time
}

// memBucket serves one path-style bucket from memory. lists counts
// ListObjectsV2 pages served.
type memBucket struct {
	mu       sync.Mutex
	name     string
	objects  map[string]memObject
	pageSize int
	lists    int
	now      func() time.Time
}

func (b *memBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	if bucket != b.name {
		return s3Error(http.StatusNotFound, "NoSuchBucket"), nil
	}
	switch {
	case key == "" && req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		return b.list(req)
	case key == "":
		return s3Error(http.StatusMethodNotAllowed, "MethodNotAllowed"), nil
	}

	switch req.Method {
	case http.MethodPut:
		return b.put(req, key)
	case http.MethodGet, http.MethodHead:
		obj, ok := b.objects[key]
		if !ok {
			if req.Method == http.MethodHead {
				return respond(http.StatusNotFound, nil, nil), nil
			}
			return s3Error(http.StatusNotFound, "NoSuchKey"), nil
		}
		h := obj.metadata.Clone()
		h.Set("Content-Type", obj.contentType)
		h.Set("Content-Length", strconv.Itoa(len(obj.body)))
		h.Set("ETag", strconv.Quote(obj.etag))
		h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, h, nil), nil
		}
		return respond(http.StatusOK, h, obj.body), nil
	case http.MethodDelete:
		delete(b.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	default:
		return s3Error(http.StatusMethodNotAllowed, "MethodNotAllowed"), nil
	}
}

func (b *memBucket) put(req *http.Request, key string) (*http.Response, error) {
	if req.Header.Get("If-None-Match") == "*" {
		if _, taken := b.objects[key]; taken {
			return s3Error(http.StatusPreconditionFailed, "PreconditionFailed"), nil
		}
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
		if body, err = decodeAWSChunked(body); err != nil {
			return s3Error(http.StatusBadRequest, "IncompleteBody"), nil
		}
	}
	sum := md5.Sum(body)
	meta := make(http.Header)
	for name, values := range req.Header {
		if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
			meta[name] = values
		}
	}
	obj := memObject{
		body:        body,
		contentType: req.Header.Get("Content-Type"),
		metadata:    meta,
		etag:        hex.EncodeToString(sum[:]),
		modified:    b.now(),
	}
	b.objects[key] = obj
	return respond(http.StatusOK, http.Header{"ETag": {strconv.Quote(obj.etag)}}, nil), nil
}

type listResult struct {
	XMLName               xml.Name      `xml:"ListBucketResult"`
	Name                  string        `xml:"Name"`
	Prefix                string        `xml:"Prefix"`
	KeyCount              int           `xml:"KeyCount"`
	IsTruncated           bool          `xml:"IsTruncated"`
	NextContinuationToken string        `xml:"NextContinuationToken,omitempty"`
	Contents              []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

// list serves one page. The continuation token is the last key of the
// previous page.
func (b *memBucket) list(req *http.Request) (*http.Response, error) {
	b.lists++
	q := req.URL.Query()
	prefix, after := q.Get("prefix"), q.Get("continuation-token")
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	res := listResult{Name: b.name, Prefix: prefix}
	if len(keys) > b.pageSize {
		keys = keys[:b.pageSize]
		res.IsTruncated = true
		res.NextContinuationToken = keys[len(keys)-1]
	}
	for _, k := range keys {
		obj := b.objects[k]
		res.Contents = append(res.Contents, listContent{
			Key:          k,
			Size:         len(obj.body),
			ETag:         strconv.Quote(obj.etag),
			LastModified: obj.modified.Format(time.RFC3339),
		})
	}
	res.KeyCount = len(res.Contents)
	out, err := xml.Marshal(res)
	if err != nil {
		return nil, err
	}
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, append([]byte(xml.Header), out...)), nil
}

// decodeAWSChunked strips the aws-chunked framing the SDK uses for streamed
// uploads: hex-sized chunks with optional signatures, ended by a zero chunk
// and trailers.
func decodeAWSChunked(raw []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeField, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, err
		}
		if _, err := r.Discard(2); err != nil {
			return nil, err
		}
	}
}

func respond(status int, h http.Header, body []byte) *http.Response {
	if h == nil {
		h = make(http.Header)
	}
	return &http.Response{
		StatusCode:    status,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func s3Error(status int, code string) *http.Response {
	body := []byte(xml.Header + "<Error><Code>" + code + "</Code><Message>" + code + "</Message></Error>")
	return respond(status, http.Header{"Content-Type": {"application/xml"}}, body)
}
