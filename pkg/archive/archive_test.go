package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plagctl/pkg/resultstore"
	"github.com/3leaps/plagctl/pkg/similarity"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

// fakeObjects is an in-memory ObjectAPI. List pages hold pageSize keys.
type fakeObjects struct {
	objects  map[string][]byte
	types    map[string]string
	pageSize int
	putErr   error
	listReqs int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}, pageSize: 1000}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listReqs++
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		_, _ = fmt.Sscanf(*in.ContinuationToken, "%d", &start)
	}
	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: aws.Time(time.Unix(0, 0).UTC()),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

func newTestArchiver(t *testing.T, f *fakeObjects, prefix string) *Archiver {
	t.Helper()
	a, err := NewWithClient(f, Config{Bucket: "reports", Prefix: prefix})
	require.NoError(t, err)
	return a
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "empty bucket", config: Config{}, wantErr: "bucket name is required"},
		{name: "valid minimal config", config: Config{Bucket: "reports"}},
		{
			name:    "access key without secret",
			config:  Config{Bucket: "reports", AccessKeyID: "AKIA"},
			wantErr: "must be provided together",
		},
		{
			name:   "explicit credentials",
			config: Config{Bucket: "reports", AccessKeyID: "AKIA", SecretAccessKey: "s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{uri: "s3://reports", wantBucket: "reports", wantPrefix: ""},
		{uri: "s3://reports/", wantBucket: "reports", wantPrefix: ""},
		{uri: "s3://reports/k65/essays", wantBucket: "reports", wantPrefix: "k65/essays/"},
		{uri: "s3://reports/k65/", wantBucket: "reports", wantPrefix: "k65/"},
		{uri: " s3://reports/x ", wantBucket: "reports", wantPrefix: "x/"},
		{uri: "https://reports/x", wantErr: true},
		{uri: "s3:///x", wantErr: true},
		{uri: "reports/x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := ParseDestination(tt.uri)
			if tt.wantErr {
				var cfgErr *ConfigError
				assert.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestIsDestination(t *testing.T) {
	assert.True(t, IsDestination("s3://bucket/x"))
	assert.False(t, IsDestination("./report.pdf"))
	assert.False(t, IsDestination("S3:/bucket"))
}

func TestResolveRegion(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		sdkRegion string
		want      string
	}{
		{name: "sdk region wins", sdkRegion: "eu-west-1", want: "eu-west-1"},
		{name: "aws fallback", want: DefaultAWSRegion},
		{name: "custom endpoint has no default", endpoint: "http://localhost:9000", want: ""},
		{name: "custom endpoint keeps sdk region", endpoint: "http://localhost:9000", sdkRegion: "auto", want: "auto"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRegion(tt.endpoint, tt.sdkRegion))
		})
	}
}

func TestArchiver_KeyAndURI(t *testing.T) {
	a := newTestArchiver(t, newFakeObjects(), "k65")

	assert.Equal(t, "k65/report.xlsx", a.Key("report.xlsx"))
	assert.Equal(t, "k65/results/a.json", a.Key("/results/a.json"))
	assert.Equal(t, "s3://reports/k65/report.xlsx", a.URI("report.xlsx"))

	bare := newTestArchiver(t, newFakeObjects(), "")
	assert.Equal(t, "report.xlsx", bare.Key("report.xlsx"))
}

func TestArchiver_PutAndGet(t *testing.T) {
	f := newFakeObjects()
	a := newTestArchiver(t, f, "k65/")
	ctx := context.Background()

	uri, err := a.PutBytes(ctx, "report.csv", "text/csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/k65/report.csv", uri)
	assert.Equal(t, "text/csv", f.types["k65/report.csv"])

	var buf bytes.Buffer
	n, err := a.Get(ctx, "report.csv", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "a,b\n", buf.String())

	_, err = a.Get(ctx, "missing.csv", &buf)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "reports/k65/missing.csv")
}

func TestArchiver_PutResult(t *testing.T) {
	f := newFakeObjects()
	a := newTestArchiver(t, f, "")

	rec := &resultstore.Record{
		ID:         "r-1",
		JobID:      "job-1",
		Filename:   "essay.pdf",
		Source:     resultstore.SourceJob,
		Level:      similarity.LevelHigh,
		Similarity: 0.82,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	uri, err := a.PutResult(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/results/r-1.json", uri)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(f.objects["results/r-1.json"], &decoded))
	assert.Equal(t, "job-1", decoded["job_id"])
	assert.Equal(t, "essay.pdf", decoded["filename"])
	assert.Equal(t, "application/json", f.types["results/r-1.json"])
}

func TestArchiver_PutClassifiesErrors(t *testing.T) {
	f := newFakeObjects()
	f.putErr = &mockAPIError{code: "AccessDenied", message: "nope"}
	a := newTestArchiver(t, f, "")

	_, err := a.PutBytes(context.Background(), "x", "", []byte("x"))
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))

	var archErr *Error
	require.ErrorAs(t, err, &archErr)
	assert.Equal(t, "Put", archErr.Op)
	assert.Equal(t, "x", archErr.Key)
}

func TestArchiver_ListFollowsContinuation(t *testing.T) {
	f := newFakeObjects()
	f.pageSize = 2
	for _, k := range []string{"k65/a", "k65/b", "k65/c", "k65/d", "k65/e", "other/z"} {
		f.objects[k] = []byte(k)
	}
	a := newTestArchiver(t, f, "k65")

	objects, err := a.List(context.Background())
	require.NoError(t, err)

	var keys []string
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"k65/a", "k65/b", "k65/c", "k65/d", "k65/e"}, keys)
	assert.Equal(t, 3, f.listReqs)
	assert.Equal(t, int64(5), objects[0].Size)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "typed NoSuchKey", err: &types.NoSuchKey{}, expected: ErrNotFound},
		{name: "typed NotFound", err: &types.NotFound{}, expected: ErrNotFound},
		{name: "typed NoSuchBucket", err: &types.NoSuchBucket{}, expected: ErrBucketNotFound},
		{name: "NoSuchKey code", err: &mockAPIError{code: "NoSuchKey"}, expected: ErrNotFound},
		{name: "NoSuchBucket code", err: &mockAPIError{code: "NoSuchBucket"}, expected: ErrBucketNotFound},
		{name: "AccessDenied code", err: &mockAPIError{code: "AccessDenied"}, expected: ErrAccessDenied},
		{name: "Forbidden code", err: &mockAPIError{code: "Forbidden"}, expected: ErrAccessDenied},
		{name: "InvalidAccessKeyId code", err: &mockAPIError{code: "InvalidAccessKeyId"}, expected: ErrInvalidCredentials},
		{name: "SignatureDoesNotMatch code", err: &mockAPIError{code: "SignatureDoesNotMatch"}, expected: ErrInvalidCredentials},
		{name: "SlowDown code", err: &mockAPIError{code: "SlowDown"}, expected: ErrThrottled},
		{name: "ServiceUnavailable code", err: &mockAPIError{code: "ServiceUnavailable"}, expected: ErrUnavailable},
		{name: "404 message", err: errors.New("operation error S3: GetObject, StatusCode: 404"), expected: ErrNotFound},
		{name: "403 message", err: errors.New("operation error S3: PutObject, StatusCode: 403"), expected: ErrAccessDenied},
		{name: "503 message", err: errors.New("StatusCode: 503, slow"), expected: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError("Test", "bucket", "key", tt.err)
			assert.True(t, errors.Is(err, tt.expected), "expected %v for %v", tt.expected, tt.err)
		})
	}
}

func TestClassify_UnknownPassesThrough(t *testing.T) {
	orig := &mockAPIError{code: "Weird"}
	err := wrapError("Test", "bucket", "", orig)

	var apiErr smithy.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Weird", apiErr.ErrorCode())
	assert.Equal(t, "s3 Test: bucket: Weird: ", err.Error())
}
