package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+":"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	prefix := aws.ToString(in.Bucket) + ":" + aws.ToString(in.Prefix)
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestS3Sink_AppendAndExists(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	s := &S3Sink{client: fake, bucket: "chunks", prefix: "incoming"}
	ctx := context.Background()

	ok, err := s.Exists(ctx, "docs/report.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Append(ctx, "docs/report.pdf", 0, []byte("a")))
	require.NoError(t, s.Append(ctx, "docs/report.pdf", 12, []byte("b")))

	assert.Equal(t, []byte("a"), fake.objects["chunks:incoming/docs/report.pdf/0000000000"])
	assert.Equal(t, []byte("b"), fake.objects["chunks:incoming/docs/report.pdf/0000000012"])

	ok, err = s.Exists(ctx, "docs/report.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "docs/report")
	require.NoError(t, err)
	assert.False(t, ok)

	fake.putErr = errors.New("denied")
	require.ErrorContains(t, s.Append(ctx, "x", 1, nil), "denied")
}

func TestNewS3Sink_UsesConfig(t *testing.T) {
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	defer func() { loadDefaultAWSConfig, newS3ClientFromConfig = origLoad, origNew }()

	var region string
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		region = lo.Region
		assert.NotNil(t, lo.Credentials)
		return aws.Config{Region: lo.Region}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &fakeS3{objects: map[string][]byte{}}
	}

	s, err := NewS3Sink(context.Background(), S3Options{
		Region:    "eu-central-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "chunks",
		PathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", region)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "report/0000000003", s.ObjectKey("report", 3))
}

func TestNewS3Sink_Errors(t *testing.T) {
	_, err := NewS3Sink(context.Background(), S3Options{})
	require.Error(t, err)

	origLoad := loadDefaultAWSConfig
	defer func() { loadDefaultAWSConfig = origLoad }()
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}

	_, err = NewS3Sink(context.Background(), S3Options{Bucket: "b"})
	require.EqualError(t, err, "load-fail")
}
