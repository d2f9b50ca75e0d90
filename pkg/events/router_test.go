package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDeliversDecodedEvents(t *testing.T) {
	buf := &bytes.Buffer{}
	r, err := NewEventRouter(WithOutput(buf))
	require.NoError(t, err)

	received := make(chan Event, 4)
	r.AddEventHandler("collect", func(_ context.Context, ev Event) error {
		received <- ev
		return nil
	})
	r.AddHandler("dump", TopicModel, r.DumpEvents)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = r.Run(ctx)
	}()
	<-r.Running()

	sink := r.Sink()
	meta := NewEventMetadata("workspace")
	require.NoError(t, sink.PublishEvent(NewConversationEvent(EventTypeConversationCreated, meta, 42, "New Chat")))

	select {
	case ev := <-received:
		c, ok := ev.(*EventConversation)
		require.True(t, ok)
		assert.Equal(t, int64(42), c.ConversationID)
		assert.Equal(t, "New Chat", c.Title)
		assert.Equal(t, meta.ID, c.Metadata().ID)
		assert.Equal(t, "workspace", c.Metadata().Mode)
		assert.NotEmpty(t, c.Payload())
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}

	require.NoError(t, r.Close())
	assert.Contains(t, buf.String(), `"conversation_id": 42`)
}

func TestNewEventFromJsonRoundTripsTypes(t *testing.T) {
	meta := NewEventMetadata("personal")
	for _, ev := range []Event{
		NewMessageEvent(EventTypeMessageStatus, meta, 3, "abc", "user", "failed", "boom"),
		NewLoadEvent(EventTypeMessagesLoaded, meta, "messages", 3, 2, ""),
		NewModeSwitchEvent(meta, "personal", "workspace"),
		NewApprovalEvent(meta, 3, "def", "approved"),
	} {
		sink := &recordingSink{}
		PublishToSinks([]EventSink{sink, SinkFunc(func(Event) error { return assert.AnError })}, ev)
		require.Len(t, sink.events, 1)

		b, err := json.Marshal(ev)
		require.NoError(t, err)
		decoded, err := NewEventFromJson(b)
		require.NoError(t, err)
		assert.Equal(t, ev.Type(), decoded.Type())
		assert.IsType(t, ev, decoded)
	}

	_, err := NewEventFromJson([]byte(`{"type":"unheard-of"}`))
	require.Error(t, err)
}

type recordingSink struct {
	events []Event
}

func (r *recordingSink) PublishEvent(e Event) error {
	r.events = append(r.events, e)
	return nil
}
