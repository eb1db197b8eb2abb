package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events chan Event
}

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.events <- e
	return nil
}

func TestUserTopic(t *testing.T) {
	assert.Equal(t, "user:abc", UserTopic("abc"))
}

func TestRedisBus_ForwardDecodes(t *testing.T) {
	b := NewRedisBus(nil, "", zerolog.Nop())
	rec := &recorder{events: make(chan Event, 1)}

	payload, err := json.Marshal(Event{Type: "notification.created", Topic: "user:1", ResourceID: "n1"})
	require.NoError(t, err)

	b.forward(context.Background(), payload, rec)
	got := <-rec.events
	assert.Equal(t, "user:1", got.Topic)
	assert.Equal(t, "n1", got.ResourceID)
}

func TestRedisBus_ForwardIgnoresGarbage(t *testing.T) {
	b := NewRedisBus(nil, "", zerolog.Nop())
	called := false
	b.forward(context.Background(), []byte("{not json"), PublisherFunc(func(context.Context, Event) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestRedisBus_ForwardSinkErrorIsLogged(t *testing.T) {
	b := NewRedisBus(nil, "", zerolog.Nop())
	payload, _ := json.Marshal(Event{Topic: "user:1"})
	assert.NotPanics(t, func() {
		b.forward(context.Background(), payload, PublisherFunc(func(context.Context, Event) error {
			return errors.New("closed")
		}))
	})
}

func TestRedisBus_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	b := NewRedisBus(client, "scheduler:test:"+time.Now().Format("150405.000"), zerolog.Nop())
	rec := &recorder{events: make(chan Event, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx, rec) }()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, b.channel).Result()
		return err == nil && n[b.channel] > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, b.Publish(ctx, Event{Type: "ping", Topic: "user:7"}))
	select {
	case got := <-rec.events:
		assert.Equal(t, "user:7", got.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("event not forwarded")
	}
}
