// Package export ships finished transcripts and segment archives to durable
// storage.
package export

import (
	"bytes"
	"context"
	"errors"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/transcript"
)

// Exporter stores the transcript of a session and returns where it went.
type Exporter interface {
	Export(ctx context.Context, session string, store *transcript.Store) (string, error)
}

// FileName is the object name used for a session transcript.
func FileName(session string, started time.Time) string {
	return "transcript_" + started.Format("20060102_150405") + "_" + session + ".txt"
}

// FileExporter writes transcripts under a local directory.
type FileExporter struct {
	Dir string
	now func() time.Time
}

// NewFileExporter creates an exporter rooted at dir.
func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{Dir: dir, now: time.Now}
}

func (f *FileExporter) Export(_ context.Context, session string, store *transcript.Store) (string, error) {
	p := filepath.Join(f.Dir, FileName(session, f.now()))
	if err := store.Save(p); err != nil {
		if errors.Is(err, transcript.ErrEmpty) {
			return "", err
		}
		return "", apperrors.Wrap(err, apperrors.CodeExport, "save transcript").WithMetadata("path", p)
	}
	return p, nil
}

// PutObjectAPI is the part of the S3 client the exporter needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter uploads transcripts to a bucket under Prefix.
type S3Exporter struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Exporter wraps an existing client.
func NewS3Exporter(client PutObjectAPI, bucket, prefix string) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// NewS3ExporterFromEnv builds a client from the default AWS credential chain.
func NewS3ExporterFromEnv(ctx context.Context, bucket, prefix string) (*S3Exporter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "load aws config")
	}
	return NewS3Exporter(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func (e *S3Exporter) Export(ctx context.Context, session string, store *transcript.Store) (string, error) {
	if store.Len() == 0 {
		return "", transcript.ErrEmpty
	}
	var buf bytes.Buffer
	if err := store.Export(&buf); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeExport, "render transcript")
	}

	key := path.Join(e.prefix, FileName(session, e.now()))
	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/plain; charset=utf-8"),
		Metadata:    map[string]string{"session-id": session},
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeExport, "upload transcript").
			WithMetadata("bucket", e.bucket).WithMetadata("key", key)
	}
	return "s3://" + e.bucket + "/" + key, nil
}

// Multi exports to every exporter and returns the first location. An error
// from any exporter is returned after all have run.
type Multi []Exporter

func (m Multi) Export(ctx context.Context, session string, store *transcript.Store) (string, error) {
	var (
		first    string
		firstErr error
	)
	for _, e := range m {
		loc, err := e.Export(ctx, session, store)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if first == "" {
			first = loc
		}
	}
	return first, firstErr
}
