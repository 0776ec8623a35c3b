package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeTopic(t *testing.T) (*pstest.Server, *Publisher) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	ctx := context.Background()
	pub, closeFn, err := Connect(ctx, "kr-cars", "runs", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	_, err = srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/kr-cars/topics/runs"})
	require.NoError(t, err)
	return srv, pub
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()

	srv, pub := newFakeTopic(t)
	payload := map[string]any{"source": "encar", "inserted": 3}

	id, err := pub.Publish(context.Background(), payload, map[string]string{"source": "encar", "status": "success"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "encar", msgs[0].Attributes["source"])
	assert.Equal(t, "success", msgs[0].Attributes["status"])

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "encar", got["source"])
	assert.EqualValues(t, 3, got["inserted"])
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, pub := newFakeTopic(t)
	_, err := pub.Publish(context.Background(), make(chan int), nil)
	require.ErrorContains(t, err, "marshal payload")
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "x", nil)
	require.Error(t, err)
}
