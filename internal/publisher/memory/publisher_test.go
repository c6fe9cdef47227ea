package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type notice struct {
	JobID string `json:"job_id"`
}

func (n notice) Attributes() map[string]string {
	return map[string]string{"job_id": n.JobID}
}

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "brief-reports", notice{JobID: "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "brief-audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "brief-reports", msgs[0].Topic)
	require.JSONEq(t, `{"job_id":"a"}`, string(msgs[0].Data))
	require.Equal(t, map[string]string{"job_id": "a"}, msgs[0].Attributes)
	require.Equal(t, "brief-audit", msgs[1].Topic)
	require.Nil(t, msgs[1].Attributes)

	msgs[0].Topic = "modified"
	require.Equal(t, "brief-reports", pub.Messages()[0].Topic)
	require.NotPanics(t, pub.Stop)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "brief-reports", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	require.Empty(t, pub.Messages())
}
