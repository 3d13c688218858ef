package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "harvest-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "harvest-runs")
	require.NoError(t, err)
	return client, srv
}

func TestPublishUsesDefaultTopic(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t)
	pub := New(client, "harvest-runs")
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(context.Background(), "", map[string]any{"run_id": "r1", "inserted": 120})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "application/json", msgs[0].Attributes["content-type"])
	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	require.Equal(t, "r1", body["run_id"])
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "not configured")

	client, _ := newTestClient(t)
	pub := New(client, "")
	_, err = pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")
	_, err = pub.Publish(context.Background(), "harvest-runs", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	require.NoError(t, pub.Close())
}

func TestOpenRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "t")
	require.ErrorContains(t, err, "project_id")
}
