package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects      map[string][]byte
	metadata     map[string]map[string]string
	bucketExists bool
	created      bool
	putErr       error
	createErr    error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:      make(map[string][]byte),
		metadata:     make(map[string]map[string]string),
		bucketExists: true,
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.metadata[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = true
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func TestS3Client_PutAndGet(t *testing.T) {
	fake := newFakeS3()
	client := NewS3ClientWithAPI(fake, "audit-archive")
	ctx := context.Background()

	payload := []byte(`{"id":1}` + "\n")
	require.NoError(t, client.PutObject(ctx, "2026/10/18/batch.ndjson", payload, "application/x-ndjson"))

	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), fake.metadata["2026/10/18/batch.ndjson"]["checksum-sha256"])

	body, err := client.GetObject(ctx, "2026/10/18/batch.ndjson")
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestS3Client_PutObjectError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")

	err := NewS3ClientWithAPI(fake, "audit-archive").PutObject(context.Background(), "k", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestS3Client_ObjectExists(t *testing.T) {
	fake := newFakeS3()
	client := NewS3ClientWithAPI(fake, "audit-archive")
	ctx := context.Background()

	exists, err := client.ObjectExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.PutObject(ctx, "present", []byte("x"), "text/plain"))
	exists, err = client.ObjectExists(ctx, "present")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.DeleteObject(ctx, "present"))
	exists, err = client.ObjectExists(ctx, "present")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateBucketIfNotExists(t *testing.T) {
	ctx := context.Background()

	t.Run("existing bucket untouched", func(t *testing.T) {
		fake := newFakeS3()
		require.NoError(t, createBucketIfNotExists(ctx, fake, "b"))
		assert.False(t, fake.created)
	})

	t.Run("missing bucket created", func(t *testing.T) {
		fake := newFakeS3()
		fake.bucketExists = false
		require.NoError(t, createBucketIfNotExists(ctx, fake, "b"))
		assert.True(t, fake.created)
	})

	t.Run("create race tolerated", func(t *testing.T) {
		fake := newFakeS3()
		fake.bucketExists = false
		fake.createErr = &types.BucketAlreadyOwnedByYou{}
		assert.NoError(t, createBucketIfNotExists(ctx, fake, "b"))
	})

	t.Run("create failure surfaced", func(t *testing.T) {
		fake := newFakeS3()
		fake.bucketExists = false
		fake.createErr = errors.New("forbidden")
		assert.Error(t, createBucketIfNotExists(ctx, fake, "b"))
	})
}

func TestS3Client_HealthCheck(t *testing.T) {
	fake := newFakeS3()
	client := NewS3ClientWithAPI(fake, "audit-archive")
	assert.NoError(t, client.HealthCheck(context.Background()))

	fake.bucketExists = false
	assert.Error(t, client.HealthCheck(context.Background()))
}
