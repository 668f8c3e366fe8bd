package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittomount/pkg/controlplane"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket string
	key    string
	body   []byte
	meta   map[string]string
}

type fakeS3 struct {
	mu      sync.Mutex
	calls   []putCall
	failKey string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	if f.failKey != "" && key == f.failKey {
		return nil, errors.New("service unavailable")
	}
	f.calls = append(f.calls, putCall{bucket: aws.ToString(in.Bucket), key: key, body: body, meta: in.Metadata})
	return &s3.PutObjectOutput{}, nil
}

type uploadRecorder struct {
	count  int
	bytes  int64
	failed int
}

func (r *uploadRecorder) RecordUpload(_ time.Duration, bytes int64, err error) {
	r.count++
	r.bytes += bytes
	if err != nil {
		r.failed++
	}
}

func testRecord(t *testing.T, fs afero.Fs) controlplane.CommitRecord {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, "/1541/_active_mount/a.d64", []byte("disk-a"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/1541/_active_mount/b.d64", []byte("disk-bb"), 0644))

	return controlplane.CommitRecord{
		Time:  time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC),
		Nonce: 0xcafe,
		Files: []controlplane.CommittedFile{
			{Name: "a.d64", Path: "/1541/_active_mount/a.d64", Size: 6, CRC32: 0x1},
			{Name: "b.d64", Path: "/1541/_active_mount/b.d64", Size: 7, CRC32: 0xabcdef},
		},
	}
}

func TestS3ConfigValidate(t *testing.T) {
	assert.Error(t, S3Config{Region: "eu-west-1"}.Validate())
	assert.Error(t, S3Config{Bucket: "disks"}.Validate())
	assert.NoError(t, S3Config{Bucket: "disks", Region: "eu-west-1"}.Validate())
}

func TestNewS3Client(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3Config{
		Bucket:          "disks",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	require.NoError(t, err)
	assert.NotNil(t, client)

	_, err = NewS3Client(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestSink_OnCommit(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := testRecord(t, fs)
	client := &fakeS3{}
	m := &uploadRecorder{}
	sink := NewSink(client, "disks", "/backups/", m)

	require.NoError(t, sink.OnCommit(context.Background(), fs, rec))

	prefix := "backups/20260504T103000Z-0000cafe"
	assert.Equal(t, prefix, sink.CommitPrefix(rec))

	require.Len(t, client.calls, 3)
	assert.Equal(t, "disks", client.calls[0].bucket)
	assert.Equal(t, prefix+"/a.d64", client.calls[0].key)
	assert.Equal(t, []byte("disk-a"), client.calls[0].body)
	assert.Equal(t, "00000001", client.calls[0].meta["crc32"])
	assert.Equal(t, prefix+"/b.d64", client.calls[1].key)
	assert.Equal(t, prefix+"/manifest.json", client.calls[2].key)

	var doc manifest
	require.NoError(t, json.Unmarshal(client.calls[2].body, &doc))
	assert.Equal(t, uint32(0xcafe), doc.Nonce)
	require.Len(t, doc.Files, 2)
	assert.Equal(t, "00abcdef", doc.Files[1].CRC32)

	assert.Equal(t, 3, m.count)
	assert.Zero(t, m.failed)
}

func TestSink_NoPrefix(t *testing.T) {
	sink := NewSink(&fakeS3{}, "disks", "", nil)
	rec := controlplane.CommitRecord{Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Nonce: 1}
	assert.Equal(t, "20260102T030405Z-00000001", sink.CommitPrefix(rec))
}

func TestSink_UploadFailureSkipsManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := testRecord(t, fs)
	client := &fakeS3{failKey: "20260504T103000Z-0000cafe/a.d64"}
	m := &uploadRecorder{}
	sink := NewSink(client, "disks", "", m)

	err := sink.OnCommit(context.Background(), fs, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.d64")

	require.Len(t, client.calls, 1, "only b.d64 uploaded, no manifest")
	assert.Equal(t, "20260504T103000Z-0000cafe/b.d64", client.calls[0].key)
	assert.Equal(t, 1, m.failed)
}

func TestSink_MissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	client := &fakeS3{}
	sink := NewSink(client, "disks", "", nil)

	err := sink.OnCommit(context.Background(), fs, controlplane.CommitRecord{
		Files: []controlplane.CommittedFile{{Name: "gone.d64", Path: "/nope/gone.d64"}},
	})
	assert.Error(t, err)
	assert.Empty(t, client.calls)
}

func TestSink_CancelledContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := testRecord(t, fs)
	client := &fakeS3{}
	sink := NewSink(client, "disks", "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.OnCommit(ctx, fs, rec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.calls)
}
