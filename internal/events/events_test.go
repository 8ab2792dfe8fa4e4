package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/fieldforce-service/internal/domain"
)

func TestDispatcherDeliversToAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()

	var got []string
	d.Subscribe(EventLoggedOut, func(_ context.Context, e Event) error {
		got = append(got, "first:"+string(e.Type))
		return errors.New("first failed")
	})
	d.Subscribe(EventLoggedOut, func(_ context.Context, e Event) error {
		got = append(got, "second:"+string(e.Type))
		return nil
	})
	d.Subscribe(EventLoginSucceeded, func(_ context.Context, _ Event) error {
		t.Fatal("unexpected delivery")
		return nil
	})

	err := d.Publish(context.Background(), NewEvent(EventLoggedOut, Actor{UserID: 1}, nil))
	assert.ErrorContains(t, err, "first failed")
	assert.Equal(t, []string{"first:logged_out", "second:logged_out"}, got)
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisherWritesJSON(t *testing.T) {
	writer := &recordingWriter{}
	pub := NewKafkaPublisherWithWriter(writer, "audit")

	event := NewEvent(EventLoginSucceeded, Actor{UserID: 12, Role: domain.UserRoleLeader}, nil)
	require.NoError(t, pub.Handle(context.Background(), event))

	require.Len(t, writer.msgs, 1)
	assert.Equal(t, "audit", writer.msgs[0].Topic)
	assert.Equal(t, "12", string(writer.msgs[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, EventLoginSucceeded, decoded.Type)
	assert.Equal(t, domain.UserRoleLeader, decoded.Actor.Role)
}

func TestKafkaPublisherPropagatesWriteErrors(t *testing.T) {
	pub := NewKafkaPublisherWithWriter(&recordingWriter{err: errors.New("broker down")}, "audit")
	err := pub.Handle(context.Background(), NewEvent(EventLoggedOut, Actor{}, nil))
	assert.ErrorContains(t, err, "broker down")
}
