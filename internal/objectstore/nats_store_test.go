package objectstore_test

import (
	"context"
	"testing"

	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/objectstore"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer starts an in-process JetStream-enabled NATS server.
func startTestServer(t *testing.T) nats.JetStreamContext {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	return jetstreamContext
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	jetstreamContext := startTestServer(t)

	store, err := objectstore.New(jetstreamContext, "egtts-audio")
	require.NoError(t, err)
	assert.Equal(t, "egtts-audio", store.Bucket())

	ctx := context.Background()
	wavData := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")

	require.NoError(t, store.Upload(ctx, "job-1.wav", wavData))

	downloaded, err := store.Download(ctx, "job-1.wav")
	require.NoError(t, err)
	assert.Equal(t, wavData, downloaded)

	bucket, err := jetstreamContext.ObjectStore("egtts-audio")
	require.NoError(t, err)

	info, err := bucket.GetInfo("job-1.wav")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", info.Headers.Get("Content-Type"))
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	jetstreamContext := startTestServer(t)

	first, err := objectstore.New(jetstreamContext, "egtts-audio")
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "kept.wav", []byte("audio")))

	second, err := objectstore.New(jetstreamContext, "egtts-audio")
	require.NoError(t, err)

	downloaded, err := second.Download(context.Background(), "kept.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), downloaded)
}

func TestNatsObjectStore_Errors(t *testing.T) {
	t.Parallel()

	jetstreamContext := startTestServer(t)

	store, err := objectstore.New(jetstreamContext, "egtts-audio")
	require.NoError(t, err)

	ctx := context.Background()

	require.ErrorIs(t, store.Upload(ctx, "", []byte("x")), objectstore.ErrEmptyKey)

	_, err = store.Download(ctx, "")
	require.ErrorIs(t, err, objectstore.ErrEmptyKey)

	_, err = store.Download(ctx, "missing.wav")
	require.ErrorIs(t, err, nats.ErrObjectNotFound)
}

func TestOpen_BindsOverConnection(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	store, err := objectstore.Open(natsConnection, "egtts-client-audio")
	require.NoError(t, err)
	assert.Equal(t, "egtts-client-audio", store.Bucket())

	require.NoError(t, store.Upload(context.Background(), "out-of-line.wav", []byte("RIFF")))

	downloaded, err := store.Download(context.Background(), "out-of-line.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), downloaded)
}
