package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// uploadPartSize is the multipart chunk size. 8 MiB keeps the part count low
// for monthly archive files while staying above the S3 5 MiB floor.
const uploadPartSize int64 = 8 * 1024 * 1024

// Writer implements domain.BlobWriter for the archive bucket.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer over the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.api(), func(u *manager.Uploader) {
			u.PartSize = uploadPartSize
		}),
		bucket: c.bucket,
	}
}

// Put uploads data to path through the upload manager, which switches to a
// concurrent multipart upload when the body outgrows one part. Archive
// batches can span a month of settled markets, so size is unbounded.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}
