package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type mockS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	lengths  map[string]int64
	putErr   error
	headCall int
}

func newMockS3() *mockS3 {
	return &mockS3{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		lengths: make(map[string]int64),
	}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	if in.ContentType != nil {
		m.types[*in.Key] = *in.ContentType
	}
	if in.ContentLength != nil {
		m.lengths[*in.Key] = *in.ContentLength
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headCall++
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, &apiError{code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	ok, err := s.Exists(ctx, "clip_denoised_custom.wav")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Open(ctx, "clip_denoised_custom.wav")
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, s.Put(ctx, "clip_denoised_custom.wav", strings.NewReader("RIFF....")))
	ok, err = s.Exists(ctx, "clip_denoised_custom.wav")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Open(ctx, "clip_denoised_custom.wav")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "RIFF....", string(data))

	require.NoError(t, s.Put(ctx, "clip_denoised_custom.wav", strings.NewReader("v2")))
	rc, err = s.Open(ctx, "clip_denoised_custom.wav")
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "v2", string(data))

	require.NoError(t, s.Delete(ctx, "clip_denoised_custom.wav"))
	require.NoError(t, s.Delete(ctx, "clip_denoised_custom.wav"))
	ok, err = s.Exists(ctx, "clip_denoised_custom.wav")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, bad := range []string{"", "..", "../escape.wav", "a/b.wav", `a\b.wav`} {
		require.ErrorIs(t, s.Put(ctx, bad, strings.NewReader("x")), ErrInvalidName, bad)
		_, err := s.Open(ctx, bad)
		require.ErrorIs(t, err, ErrInvalidName, bad)
	}
}

func TestLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	s, err := NewLocal(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	exerciseStore(t, s)

	p, err := s.Path("x.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "x.png"), p)
}

func TestS3Store(t *testing.T) {
	exerciseStore(t, NewS3(newMockS3(), "bucket", ""))
}

func TestS3StorePrefixAndHeaders(t *testing.T) {
	mock := newMockS3()
	s := NewS3(mock, "bucket", "jobs")

	require.NoError(t, s.Put(context.Background(), "clip_comparison.png", strings.NewReader("png-bytes")))
	assert.Contains(t, mock.objects, "jobs/clip_comparison.png")
	assert.Equal(t, "image/png", mock.types["jobs/clip_comparison.png"])
	assert.Equal(t, int64(len("png-bytes")), mock.lengths["jobs/clip_comparison.png"])
}

func TestS3StorePutError(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("access denied")
	s := NewS3(mock, "bucket", "")

	err := s.Put(context.Background(), "a.wav", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestPutFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	mock := newMockS3()
	s := NewS3(mock, "bucket", "")
	require.NoError(t, PutFile(context.Background(), s, "out.wav", src))
	assert.Equal(t, []byte("payload"), mock.objects["out.wav"])

	err := PutFile(context.Background(), s, "out.wav", filepath.Join(t.TempDir(), "missing.wav"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewS3FromConfig(t *testing.T) {
	_, err := NewS3FromConfig(S3Config{})
	require.Error(t, err)

	s, err := NewS3FromConfig(S3Config{
		Bucket:    "artifacts",
		Prefix:    "dev",
		Endpoint:  "http://localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		PathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "dev/x.wav", s.key("x.wav"))
	assert.IsType(t, &s3.Client{}, s.client)
}
