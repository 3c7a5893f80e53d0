package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "contest-updates")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Stop()

	id, err := pub.Publish(ctx, "contest-updates", map[string]any{"build_id": "b1", "contest_count": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, "b1", decoded["build_id"])
	assert.EqualValues(t, 3, decoded["contest_count"])
}

func TestPublishUnknownTopicFails(t *testing.T) {
	client, _ := newTestClient(t)
	pub := New(client)
	defer pub.Stop()

	_, err := pub.Publish(context.Background(), "missing", "x")
	assert.Error(t, err)
}

func TestPublishValidation(t *testing.T) {
	_, err := New(nil).Publish(context.Background(), "t", "x")
	assert.Error(t, err)

	client, _ := newTestClient(t)
	_, err = New(client).Publish(context.Background(), "", "x")
	assert.Error(t, err)

	_, err = New(client).Publish(context.Background(), "t", func() {})
	assert.Error(t, err)
}
