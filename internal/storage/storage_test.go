package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKeys(t *testing.T) {
	k := Keys{PredictionID: "pred_assam_dl_20260214_0600"}

	assert.Equal(t, "predictions/pred_assam_dl_20260214_0600/forecast.nc", k.NetCDF())
	assert.Equal(t, "predictions/pred_assam_dl_20260214_0600/forecast.crf", k.CRF())
	assert.Equal(t, "predictions/pred_assam_dl_20260214_0600/depth_t007.tif", k.GeoTIFF(VarDepth, 7))
	assert.Equal(t, "predictions/pred_assam_dl_20260214_0600/vel_x_t162.tif", k.GeoTIFF(VarVelocityX, 162))
	assert.Equal(t, "predictions/pred_assam_dl_20260214_0600/vel_y_t000.tif", k.GeoTIFF(VarVelocityY, 0))
	assert.Equal(t, "previews/pred_assam_dl_20260214_0600/t024.png", k.Preview(24))
	assert.Equal(t, "previews/pred_assam_dl_20260214_0600/thumb_t024.png", k.Thumbnail(24))
}

type mockS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.inputs = append(m.inputs, in)
	m.bodies = append(m.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Uploader_Upload(t *testing.T) {
	client := &mockS3{}
	u := NewS3Uploader(client, "flood-artifacts", "ap-south-1", "", discardLogger())

	url, err := u.Upload(context.Background(), "previews/p/t001.png", ContentTypePNG, []byte("png"))
	require.NoError(t, err)

	assert.Equal(t, "https://flood-artifacts.s3.ap-south-1.amazonaws.com/previews/p/t001.png", url)
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "flood-artifacts", *client.inputs[0].Bucket)
	assert.Equal(t, "previews/p/t001.png", *client.inputs[0].Key)
	assert.Equal(t, ContentTypePNG, *client.inputs[0].ContentType)
	assert.Equal(t, int64(3), *client.inputs[0].ContentLength)
	assert.Equal(t, []byte("png"), client.bodies[0])
}

func TestS3Uploader_PublicBase(t *testing.T) {
	u := NewS3Uploader(&mockS3{}, "b", "ap-south-1", "https://cdn.example.test/", discardLogger())
	assert.Equal(t, "https://cdn.example.test/predictions/p/forecast.nc", u.URL("predictions/p/forecast.nc"))
}

func TestS3Uploader_Error(t *testing.T) {
	u := NewS3Uploader(&mockS3{err: errors.New("access denied")}, "b", "r", "", discardLogger())

	_, err := u.Upload(context.Background(), "predictions/p/forecast.nc", ContentTypeNetCDF, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage upload predictions/p/forecast.nc")
	assert.Contains(t, err.Error(), "access denied")
}

func TestLocalUploader(t *testing.T) {
	root := t.TempDir()
	u, err := NewLocalUploader(root, "http://localhost:8080/artifacts", discardLogger())
	require.NoError(t, err)

	url, err := u.Upload(context.Background(), "predictions/p/depth_t001.tif", ContentTypeGeoTIFF, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/artifacts/predictions/p/depth_t001.tif", url)

	got, err := os.ReadFile(filepath.Join(root, "predictions", "p", "depth_t001.tif"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestLocalUploader_RejectsEscapingKey(t *testing.T) {
	u, err := NewLocalUploader(t.TempDir(), "http://x", discardLogger())
	require.NoError(t, err)

	_, err = u.Upload(context.Background(), "../outside.png", ContentTypePNG, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes storage root")
}

func TestLocalUploader_CanceledContext(t *testing.T) {
	u, err := NewLocalUploader(t.TempDir(), "http://x", discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = u.Upload(ctx, "a.png", ContentTypePNG, nil)
	require.ErrorIs(t, err, context.Canceled)
}
