// Package storage publishes rendered artifacts to blob storage so the panel,
// the dashboard or an operator can fetch them by reference.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Storage interface {
	// SaveArtifact stores data under name and returns a reference to it.
	SaveArtifact(ctx context.Context, name, contentType string, data []byte) (string, error)
	// LoadArtifact returns the bytes behind a reference from SaveArtifact.
	LoadArtifact(ctx context.Context, ref string) ([]byte, error)
}

type LocalStorage struct {
	fs        afero.Fs
	uploadDir string
}

type SpacesStorage struct {
	client s3iface.S3API
	bucket string
	cdnURL string
}

func NewLocalStorage(fs afero.Fs, uploadDir string) *LocalStorage {
	return &LocalStorage{fs: fs, uploadDir: uploadDir}
}

func NewSpacesStorage(endpoint, region, bucket, cdnURL, accessKey, secretKey string) (*SpacesStorage, error) {
	config := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(false),
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return newSpacesStorage(s3.New(sess), bucket, cdnURL), nil
}

func newSpacesStorage(client s3iface.S3API, bucket, cdnURL string) *SpacesStorage {
	return &SpacesStorage{client: client, bucket: bucket, cdnURL: strings.TrimSuffix(cdnURL, "/")}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// normalizeName turns an artifact id into a safe file name with an extension
// matching the content type.
func normalizeName(name, contentType string) string {
	base := strings.ReplaceAll(name, " ", "_")
	base = unsafeChars.ReplaceAllString(base, "")
	if base == "" {
		base = "artifact"
	}
	return base + extensionFor(contentType)
}

func extensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

func (ls *LocalStorage) SaveArtifact(_ context.Context, name, contentType string, data []byte) (string, error) {
	fileName := normalizeName(name, contentType)
	log.Debug().Str("original", name).Str("normalized", fileName).Msg("artifact name normalized")

	if err := ls.fs.MkdirAll(ls.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	dst := filepath.Join(ls.uploadDir, fileName)
	if err := afero.WriteFile(ls.fs, dst, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save artifact: %w", err)
	}
	return dst, nil
}

func (ls *LocalStorage) LoadArtifact(_ context.Context, ref string) ([]byte, error) {
	clean := filepath.Clean(ref)
	if !strings.HasPrefix(clean, filepath.Clean(ls.uploadDir)+string(filepath.Separator)) {
		return nil, fmt.Errorf("artifact %q is outside %s", ref, ls.uploadDir)
	}
	return afero.ReadFile(ls.fs, clean)
}

func (ss *SpacesStorage) key(fileName string) string {
	return path.Join("artifacts", fileName)
}

func (ss *SpacesStorage) SaveArtifact(ctx context.Context, name, contentType string, data []byte) (string, error) {
	fileName := normalizeName(name, contentType)
	key := ss.key(fileName)

	_, err := ss.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(ss.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         aws.String("public-read"),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to upload artifact to Spaces")
		return "", fmt.Errorf("failed to upload to Spaces: %w", err)
	}
	return fmt.Sprintf("%s/%s", ss.cdnURL, key), nil
}

func (ss *SpacesStorage) LoadArtifact(ctx context.Context, ref string) ([]byte, error) {
	key := strings.TrimPrefix(strings.TrimPrefix(ref, ss.cdnURL), "/")
	out, err := ss.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ss.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s from Spaces: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
