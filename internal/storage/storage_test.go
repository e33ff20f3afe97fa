package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "clock_1.png", normalizeName("clock 1", "image/png"))
	assert.Equal(t, "abc.bin", normalizeName("a/b.c", "application/x-foo"))
	assert.Equal(t, "artifact.jpg", normalizeName("../", "image/jpeg"))
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	ls := NewLocalStorage(fs, "/var/inkframe")

	ref, err := ls.SaveArtifact(ctx, "img-1", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/var/inkframe/img-1.png", ref)

	data, err := ls.LoadArtifact(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	_, err = ls.LoadArtifact(ctx, "/etc/passwd")
	assert.Error(t, err)
}

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, assert.AnError
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestSpacesStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	ss := newSpacesStorage(fake, "frames", "https://cdn.example.com/")

	ref, err := ss.SaveArtifact(ctx, "img-2", "image/png", []byte("frame"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/artifacts/img-2.png", ref)
	assert.Contains(t, fake.objects, "frames/artifacts/img-2.png")

	data, err := ss.LoadArtifact(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), data)

	_, err = ss.LoadArtifact(ctx, "https://cdn.example.com/artifacts/missing.png")
	assert.Error(t, err)
}
