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

	"github.com/JakeFAU/postrelay/internal/relay"
)

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = client.CreateTopic(ctx, "runs")
	require.NoError(t, err)

	pub := NewWithClient(client)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishSummary(t *testing.T) {
	t.Parallel()
	pub, srv := newTestPublisher(t)

	summary := relay.Summary{
		RunID:     "run-1",
		Source:    "e621",
		Outcome:   relay.OutcomeDelivered,
		New:       2,
		Delivered: 2,
		Cursor:    106,
	}
	id, err := pub.Publish(context.Background(), "runs", summary)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "e621", msgs[0].Attributes["source"])
	require.Equal(t, "delivered", msgs[0].Attributes["outcome"])
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])

	var got relay.Summary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, int64(106), got.Cursor)
	require.Equal(t, 2, got.Delivered)
}

func TestPublishGenericPayload(t *testing.T) {
	t.Parallel()
	pub, srv := newTestPublisher(t)

	_, err := pub.Publish(context.Background(), "runs", map[string]string{"k": "v"})
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])
	require.JSONEq(t, `{"k":"v"}`, string(msgs[0].Data))
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()
	pub, _ := newTestPublisher(t)

	_, err := pub.Publish(context.Background(), "", "payload")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "runs", func() {})
	require.ErrorContains(t, err, "marshal payload")

	var unset Publisher
	_, err = unset.Publish(context.Background(), "runs", "payload")
	require.ErrorContains(t, err, "not configured")
}

func TestNewRequiresProject(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), "")
	require.ErrorContains(t, err, "project id is required")
}
