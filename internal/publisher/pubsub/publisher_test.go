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

type notice struct {
	JobID string `json:"job_id"`
}

func (n notice) Attributes() map[string]string {
	return map[string]string{"job_id": n.JobID}
}

func TestPublisherPublishesJSONWithAttributes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "brief-reports")
	require.NoError(t, err)
	pub := New(topic)
	t.Cleanup(pub.Stop)

	id, err := pub.Publish(ctx, "brief-reports", notice{JobID: "job-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "job-1", msgs[0].Attributes["job_id"])
	var decoded notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "job-1", decoded.JobID)
}

func TestPublisherWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", map[string]string{})
	require.ErrorContains(t, err, "not configured")
}
