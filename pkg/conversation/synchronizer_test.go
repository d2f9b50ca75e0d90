package conversation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/velocity/internal/fakeremote"
	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/credentials"
	"github.com/go-go-golems/velocity/pkg/events"
	"github.com/go-go-golems/velocity/pkg/gateway"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/go-go-golems/velocity/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) PublishEvent(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		ret = append(ret, e.Type())
	}
	return ret
}

type fixture struct {
	srv   *fakeremote.Server
	user  fakeremote.User
	modes *mode.Context
	sink  *recordingSink
	sync  *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	srv := fakeremote.New()
	t.Cleanup(srv.Close)
	user := srv.SeedUser("ada@example.com", "pw", "Ada")

	creds := credentials.NewStore(nil, nil)
	require.NoError(t, creds.Persist(ctx, &credentials.Credential{
		Token:  user.Token,
		UserID: user.ID,
		Email:  user.Email,
	}, false))

	gw, err := gateway.NewClient(srv.URL,
		gateway.WithURLPolicy(security.LocalDevelopmentPolicy),
		gateway.WithCredentials(creds),
		gateway.WithAuthRequired(true),
	)
	require.NoError(t, err)

	modes := mode.New(ctx, nil)
	sink := &recordingSink{}
	s := New(api.NewClient(gw), creds, modes, WithSink(sink))
	t.Cleanup(s.Close)

	return &fixture{srv: srv, user: user, modes: modes, sink: sink, sync: s}
}

func (f *fixture) seedConversation(t *testing.T, title string, messages ...string) fakeremote.Conversation {
	t.Helper()
	c := f.srv.SeedConversation(f.user.ID, title)
	for i, m := range messages {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		f.srv.SeedMessage(c.ID, role, m)
	}
	return c
}

func contents(msgs []Message) []string {
	ret := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ret = append(ret, string(m.Role)+":"+m.Content)
	}
	return ret
}

func TestSendWithoutConversationCreatesOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.srv.Handle(fakeremote.RouteCreateConversation, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":42,"title":"New Chat","owner_id":1,"created_at":"2025-01-01T10:00:00.000000","updated_at":null}`))
	})
	f.srv.Handle(fakeremote.RouteChat, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"hi","conversation_id":42,"requires_approval":false,"proposed_action":null,"sources":[]}`))
	})

	_, err := f.sync.Send(ctx, "hello", DraftID)
	require.NoError(t, err)

	snap := f.sync.Snapshot()
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, int64(42), snap.Conversations[0].ID)
	assert.Equal(t, int64(42), snap.ActiveID)
	assert.Empty(t, snap.Messages[DraftID])

	msgs := snap.Messages[42]
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"user:hello", "assistant:hi"}, contents(msgs))
	assert.Equal(t, StatusSent, msgs[0].Status)
	assert.Equal(t, StatusSent, msgs[1].Status)
	assert.Equal(t, int64(42), msgs[0].ConversationID)

	chats := f.srv.RequestsTo(fakeremote.RouteChat)
	require.Len(t, chats, 1)
	assert.Contains(t, string(chats[0].Body), `"conversation_id":42`)
	assert.Contains(t, string(chats[0].Body), `"mode":"personal"`)
}

func TestFailedChatMarksMessageFailedAndRetryDelivers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "Plans")
	require.NoError(t, f.sync.Refresh(ctx))

	f.srv.Fail(fakeremote.RouteChat, http.StatusServiceUnavailable, "model overloaded", "")
	localID, err := f.sync.Send(ctx, "hello", c.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrService))

	msgs := f.sync.Snapshot().Messages[c.ID]
	require.Len(t, msgs, 1)
	assert.Equal(t, localID, msgs[0].LocalID)
	assert.Equal(t, StatusFailed, msgs[0].Status)
	assert.Equal(t, "model overloaded", msgs[0].Error)

	f.srv.ClearFailures()
	require.NoError(t, f.sync.Retry(ctx, localID))

	msgs = f.sync.Snapshot().Messages[c.ID]
	require.Len(t, msgs, 2)
	assert.Equal(t, localID, msgs[0].LocalID)
	assert.Equal(t, StatusSent, msgs[0].Status)
	assert.Empty(t, msgs[0].Error)
	assert.Equal(t, RoleAssistant, msgs[1].Role)

	err = f.sync.Retry(ctx, localID)
	assert.True(t, errors.Is(err, ErrNotRetryable))
}

func TestFailedCreateLeavesDraftFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.srv.Fail(fakeremote.RouteCreateConversation, http.StatusInternalServerError, "", "")

	localID, err := f.sync.Send(ctx, "hello", DraftID)
	require.Error(t, err)

	snap := f.sync.Snapshot()
	assert.Empty(t, snap.Conversations)
	require.Len(t, snap.Messages[DraftID], 1)
	assert.Equal(t, StatusFailed, snap.Messages[DraftID][0].Status)
	assert.Equal(t, "500 Internal Server Error", snap.Messages[DraftID][0].Error)
	assert.Empty(t, f.srv.RequestsTo(fakeremote.RouteChat))

	f.srv.ClearFailures()
	require.NoError(t, f.sync.Retry(ctx, localID))
	snap = f.sync.Snapshot()
	require.Len(t, snap.Conversations, 1)
	assert.Len(t, snap.Messages[snap.Conversations[0].ID], 2)
	assert.Empty(t, snap.Messages[DraftID])
}

func TestDeleteActiveConversationInOneUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	keep := f.seedConversation(t, "Keep")
	drop := f.seedConversation(t, "Drop", "q", "a")
	require.NoError(t, f.sync.Refresh(ctx))
	require.NoError(t, f.sync.LoadMessages(ctx, drop.ID))
	require.NoError(t, f.sync.Select(drop.ID))

	var seen []Snapshot
	unsubscribe := f.sync.Subscribe(func(s Snapshot) { seen = append(seen, s) })
	defer unsubscribe()

	require.NoError(t, f.sync.DeleteConversation(ctx, drop.ID))

	require.Len(t, seen, 1)
	snap := seen[0]
	_, found := snap.Conversation(drop.ID)
	assert.False(t, found)
	assert.Empty(t, snap.Messages[drop.ID])
	assert.Equal(t, DraftID, snap.ActiveID)
	_, found = snap.Conversation(keep.ID)
	assert.True(t, found)
}

func TestFailedDeleteKeepsConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "Stay")
	require.NoError(t, f.sync.Refresh(ctx))
	require.NoError(t, f.sync.Select(c.ID))

	f.srv.Fail(fakeremote.RouteDeleteConversation, http.StatusForbidden, "not yours", "FORBIDDEN")
	err := f.sync.DeleteConversation(ctx, c.ID)
	require.Error(t, err)

	snap := f.sync.Snapshot()
	_, found := snap.Conversation(c.ID)
	assert.True(t, found)
	assert.Equal(t, c.ID, snap.ActiveID)
}

func TestFailedRenameRestoresPriorTitle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "  Spaced  Title ")
	require.NoError(t, f.sync.Refresh(ctx))

	var titles []string
	unsubscribe := f.sync.Subscribe(func(s Snapshot) {
		if conv, ok := s.Conversation(c.ID); ok {
			titles = append(titles, conv.Title)
		}
	})
	defer unsubscribe()

	f.srv.Fail(fakeremote.RouteUpdateConversation, http.StatusInternalServerError, "db down", "")
	require.Error(t, f.sync.RenameConversation(ctx, c.ID, "Better"))

	conv, ok := f.sync.Snapshot().Conversation(c.ID)
	require.True(t, ok)
	assert.Equal(t, "  Spaced  Title ", conv.Title)
	assert.Equal(t, []string{"Better", "  Spaced  Title "}, titles)
}

func TestRenameAppliesServerConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "Old")
	require.NoError(t, f.sync.Refresh(ctx))

	require.NoError(t, f.sync.RenameConversation(ctx, c.ID, "New"))
	conv, _ := f.sync.Snapshot().Conversation(c.ID)
	assert.Equal(t, "New", conv.Title)
	assert.False(t, conv.UpdatedAt.IsZero())

	assert.True(t, errors.Is(f.sync.RenameConversation(ctx, 999, "x"), ErrUnknownConversation))
	assert.True(t, errors.Is(f.sync.RenameConversation(ctx, c.ID, "  "), ErrEmptyTitle))
}

func TestLoadArrivingAfterOptimisticSendKeepsPendingMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "Plans", "first", "reply")
	require.NoError(t, f.sync.Refresh(ctx))

	loadGate := f.srv.Hold(fakeremote.RouteListMessages)
	loadDone := make(chan error, 1)
	go func() { loadDone <- f.sync.LoadMessages(ctx, c.ID) }()
	<-loadGate.Arrived()

	chatGate := f.srv.Hold(fakeremote.RouteChat)
	sendDone := make(chan error, 1)
	go func() {
		_, err := f.sync.Send(ctx, "second", c.ID)
		sendDone <- err
	}()
	<-chatGate.Arrived()

	loadGate.Release()
	require.NoError(t, waitErr(t, loadDone))

	msgs := f.sync.Snapshot().Messages[c.ID]
	assert.Equal(t, []string{"user:first", "assistant:reply", "user:second"}, contents(msgs))
	assert.Equal(t, StatusPending, msgs[2].Status)
	pendingID := msgs[2].LocalID

	chatGate.Release()
	require.NoError(t, waitErr(t, sendDone))

	msgs = f.sync.Snapshot().Messages[c.ID]
	assert.Equal(t, []string{"user:first", "assistant:reply", "user:second", "assistant:[personal] second"}, contents(msgs))

	// a reload matches the confirmed messages instead of duplicating them
	require.NoError(t, f.sync.LoadMessages(ctx, c.ID))
	msgs = f.sync.Snapshot().Messages[c.ID]
	assert.Equal(t, []string{"user:first", "assistant:reply", "user:second", "assistant:[personal] second"}, contents(msgs))
	assert.Equal(t, pendingID, msgs[2].LocalID)
	assert.NotZero(t, msgs[2].ID)
}

func TestLoadKeepsMessageConfirmedAfterIssue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "Plans", "first", "reply")
	require.NoError(t, f.sync.Refresh(ctx))

	// the load is answered from server state captured before the chat landed
	f.srv.Handle(fakeremote.RouteListMessages, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":1,"conversation_id":1,"role":"user","content":"first","created_at":"2025-01-01T09:00:03.000000"},
			{"id":2,"conversation_id":1,"role":"assistant","content":"reply","created_at":"2025-01-01T09:00:04.000000"},
			{"id":1,"conversation_id":1,"role":"user","content":"first","created_at":"2025-01-01T09:00:03.000000"}
		]`))
	})
	loadGate := f.srv.Hold(fakeremote.RouteListMessages)
	loadDone := make(chan error, 1)
	go func() { loadDone <- f.sync.LoadMessages(ctx, c.ID) }()
	<-loadGate.Arrived()

	_, err := f.sync.Send(ctx, "second", c.ID)
	require.NoError(t, err)

	loadGate.Release()
	require.NoError(t, waitErr(t, loadDone))

	msgs := f.sync.Snapshot().Messages[c.ID]
	assert.Equal(t, []string{"user:first", "assistant:reply", "user:second", "assistant:[personal] second"}, contents(msgs))
	assert.Equal(t, StatusSent, msgs[2].Status)
}

func TestModeRoundTripLeavesModelUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedConversation(t, "A", "q1", "a1")
	f.seedConversation(t, "B", "q2", "a2")

	reload := func() {
		require.NoError(t, f.sync.Refresh(ctx))
		require.NoError(t, f.sync.LoadMessages(ctx, a.ID))
	}
	reload()
	require.NoError(t, f.sync.Select(a.ID))
	before := f.sync.Snapshot()

	require.NoError(t, f.modes.Set(ctx, mode.Workspace))
	mid := f.sync.Snapshot()
	assert.Equal(t, LoadIdle, mid.ListState)
	assert.Equal(t, "workspace", mid.Mode)
	reload()

	require.NoError(t, f.modes.Set(ctx, mode.Personal))
	reload()
	after := f.sync.Snapshot()

	assert.Equal(t, before.Conversations, after.Conversations)
	assert.Equal(t, before.Messages, after.Messages)
	assert.Equal(t, before.ActiveID, after.ActiveID)
	assert.Contains(t, f.sink.types(), events.EventTypeModeSwitched)
}

func TestModeSwitchDiscardsListInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "A")

	gate := f.srv.Hold(fakeremote.RouteListConversations)
	done := make(chan error, 1)
	go func() { done <- f.sync.Refresh(ctx) }()
	<-gate.Arrived()

	require.NoError(t, f.modes.Set(ctx, mode.Workspace))
	gate.Release()
	require.NoError(t, waitErr(t, done))

	snap := f.sync.Snapshot()
	assert.Empty(t, snap.Conversations)
	assert.Equal(t, LoadIdle, snap.ListState)
}

func TestListFailureKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "A")
	require.NoError(t, f.sync.Refresh(ctx))

	f.srv.Fail(fakeremote.RouteListConversations, http.StatusBadGateway, "", "")
	require.Error(t, f.sync.Refresh(ctx))

	snap := f.sync.Snapshot()
	assert.Len(t, snap.Conversations, 1)
	assert.Equal(t, LoadFailed, snap.ListState)
	assert.Equal(t, "502 Bad Gateway", snap.ListError)
	assert.Contains(t, f.sink.types(), events.EventTypeLoadFailed)
}

func TestChatAnsweringWithAnotherIDReconciles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "Plans")
	require.NoError(t, f.sync.Refresh(ctx))
	require.NoError(t, f.sync.Select(c.ID))

	f.srv.Handle(fakeremote.RouteChat, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"moved","conversation_id":99}`))
	})
	_, err := f.sync.Send(ctx, "hello", c.ID)
	require.NoError(t, err)

	snap := f.sync.Snapshot()
	_, found := snap.Conversation(c.ID)
	assert.False(t, found)
	conv, found := snap.Conversation(99)
	require.True(t, found)
	assert.Equal(t, "Plans", conv.Title)
	assert.Equal(t, int64(99), snap.ActiveID)
	assert.Empty(t, snap.Messages[c.ID])
	assert.Equal(t, []string{"user:hello", "assistant:moved"}, contents(snap.Messages[99]))
	assert.Contains(t, f.sink.types(), events.EventTypeConversationReconciled)
}

func TestSendMovesConversationToFront(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	older := f.seedConversation(t, "Older")
	f.seedConversation(t, "Newer")
	require.NoError(t, f.sync.Refresh(ctx))
	assert.Equal(t, "Newer", f.sync.Snapshot().Conversations[0].Title)

	_, err := f.sync.Send(ctx, "bump", older.ID)
	require.NoError(t, err)
	snap := f.sync.Snapshot()
	assert.Equal(t, older.ID, snap.Conversations[0].ID)
	assert.False(t, snap.Conversations[0].UpdatedAt.IsZero())

	_, err = f.sync.Send(ctx, "second", older.ID)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"user:bump", "assistant:[personal] bump", "user:second", "assistant:[personal] second"},
		contents(f.sync.Snapshot().Messages[older.ID]))
}

func TestSendValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.sync.Send(ctx, "   ", DraftID)
	assert.True(t, errors.Is(err, ErrEmptyMessage))

	_, err = f.sync.Send(ctx, "hi", 1234)
	assert.True(t, errors.Is(err, ErrUnknownConversation))
	assert.Empty(t, f.sync.Snapshot().Messages)
	assert.True(t, errors.Is(f.sync.Select(1234), ErrUnknownConversation))
}

func TestWorkspaceModeIsSentWithChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.modes.Set(ctx, mode.Workspace))

	_, err := f.sync.Send(ctx, "status?", DraftID)
	require.NoError(t, err)

	snap := f.sync.Snapshot()
	require.Len(t, snap.Conversations, 1)
	msgs := snap.Messages[snap.ActiveID]
	assert.Equal(t, "[workspace] status?", msgs[1].Content)
}

func TestResolveAction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.srv.SetReply(func(message, mode string) fakeremote.Reply {
		return fakeremote.Reply{
			Text:             "Shall I move your study block to 3pm?",
			RequiresApproval: true,
			ProposedAction:   map[string]interface{}{"type": "schedule"},
			Sources:          []string{"calendar"},
		}
	})

	_, err := f.sync.Send(ctx, "plan my day", DraftID)
	require.NoError(t, err)
	snap := f.sync.Snapshot()
	msgs := snap.Messages[snap.ActiveID]
	require.Len(t, msgs, 2)
	proposal := msgs[1]
	assert.Equal(t, ApprovalPending, proposal.Approval)
	assert.Equal(t, "schedule", proposal.ProposedAction["type"])
	assert.Equal(t, []string{"calendar"}, proposal.Sources)

	// user messages carry nothing to approve
	assert.True(t, errors.Is(f.sync.ResolveAction(ctx, msgs[0].LocalID, true), ErrNoPendingApproval))

	f.srv.FailOnce(fakeremote.RouteApprove, http.StatusInternalServerError, "calendar unavailable")
	require.Error(t, f.sync.ResolveAction(ctx, proposal.LocalID, true))
	m, _ := f.sync.Snapshot().Message(proposal.LocalID)
	assert.Equal(t, ApprovalPending, m.Approval)

	require.NoError(t, f.sync.ResolveAction(ctx, proposal.LocalID, true))
	snap = f.sync.Snapshot()
	m, _ = snap.Message(proposal.LocalID)
	assert.Equal(t, ApprovalApproved, m.Approval)
	msgs = snap.Messages[snap.ActiveID]
	require.Len(t, msgs, 3)
	assert.Equal(t, "Action approved! Changes have been applied.", msgs[2].Content)

	assert.True(t, errors.Is(f.sync.ResolveAction(ctx, proposal.LocalID, false), ErrNoPendingApproval))
	assert.Contains(t, f.sink.types(), events.EventTypeApprovalResolved)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.srv.SetReply(func(message, mode string) fakeremote.Reply {
		return fakeremote.Reply{Text: "ok", Sources: []string{"notion"}}
	})
	_, err := f.sync.Send(ctx, "x", DraftID)
	require.NoError(t, err)

	snap := f.sync.Snapshot()
	snap.Messages[snap.ActiveID][1].Sources[0] = "mutated"
	snap.Conversations[0].Title = "mutated"

	fresh := f.sync.Snapshot()
	assert.Equal(t, "notion", fresh.Messages[fresh.ActiveID][1].Sources[0])
	assert.NotEqual(t, "mutated", fresh.Conversations[0].Title)
}

func TestCreateConversationSelectsIt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "Existing")
	require.NoError(t, f.sync.Refresh(ctx))

	c, err := f.sync.CreateConversation(ctx, "Fresh")
	require.NoError(t, err)
	snap := f.sync.Snapshot()
	assert.Equal(t, c.ID, snap.ActiveID)
	assert.Equal(t, "Fresh", snap.Conversations[0].Title)
	assert.Len(t, snap.Conversations, 2)
}

func TestConcurrentSendsKeepCallOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "Busy")
	require.NoError(t, f.sync.Refresh(ctx))

	first := f.srv.Hold(fakeremote.RouteChat)
	done1 := make(chan error, 1)
	go func() {
		_, err := f.sync.Send(ctx, "one", c.ID)
		done1 <- err
	}()
	<-first.Arrived()

	_, err := f.sync.Send(ctx, "two", c.ID)
	require.NoError(t, err)
	first.Release()
	require.NoError(t, waitErr(t, done1))

	assert.Equal(t,
		[]string{"user:one", "assistant:[personal] one", "user:two", "assistant:[personal] two"},
		contents(f.sync.Snapshot().Messages[c.ID]))
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for operation")
		return nil
	}
}

func TestOverlappingFailedRenamesRestoreConfirmedTitle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "Original")
	require.NoError(t, f.sync.Refresh(ctx))

	f.srv.Fail(fakeremote.RouteUpdateConversation, http.StatusInternalServerError, "db down", "")
	firstGate := f.srv.Hold(fakeremote.RouteUpdateConversation)
	secondGate := f.srv.Hold(fakeremote.RouteUpdateConversation)

	first := make(chan error, 1)
	go func() { first <- f.sync.RenameConversation(ctx, c.ID, "A") }()
	<-firstGate.Arrived()
	second := make(chan error, 1)
	go func() { second <- f.sync.RenameConversation(ctx, c.ID, "B") }()
	<-secondGate.Arrived()

	conv, _ := f.sync.Snapshot().Conversation(c.ID)
	assert.Equal(t, "B", conv.Title)

	firstGate.Release()
	require.Error(t, waitErr(t, first))
	conv, _ = f.sync.Snapshot().Conversation(c.ID)
	assert.Equal(t, "B", conv.Title)

	secondGate.Release()
	require.Error(t, waitErr(t, second))

	conv, _ = f.sync.Snapshot().Conversation(c.ID)
	server, _ := f.srv.Conversation(c.ID)
	assert.Equal(t, "Original", server.Title)
	assert.Equal(t, "Original", conv.Title)
}

func TestEarlierRenameSucceedingAfterLaterFailureWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.seedConversation(t, "Original")
	require.NoError(t, f.sync.Refresh(ctx))

	firstGate := f.srv.Hold(fakeremote.RouteUpdateConversation)
	secondGate := f.srv.Hold(fakeremote.RouteUpdateConversation)

	first := make(chan error, 1)
	go func() { first <- f.sync.RenameConversation(ctx, c.ID, "A") }()
	<-firstGate.Arrived()
	second := make(chan error, 1)
	go func() { second <- f.sync.RenameConversation(ctx, c.ID, "B") }()
	<-secondGate.Arrived()

	f.srv.FailOnce(fakeremote.RouteUpdateConversation, http.StatusInternalServerError, "db down")
	secondGate.Release()
	require.Error(t, waitErr(t, second))
	conv, _ := f.sync.Snapshot().Conversation(c.ID)
	assert.Equal(t, "Original", conv.Title)

	firstGate.Release()
	require.NoError(t, waitErr(t, first))

	conv, _ = f.sync.Snapshot().Conversation(c.ID)
	server, _ := f.srv.Conversation(c.ID)
	assert.Equal(t, "A", server.Title)
	assert.Equal(t, "A", conv.Title)
}

func TestSubscriberMayUnsubscribeItself(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "A")

	calls := 0
	var unsubscribe func()
	unsubscribe = f.sync.Subscribe(func(Snapshot) {
		calls++
		unsubscribe()
	})

	done := make(chan error, 1)
	go func() { done <- f.sync.Refresh(ctx) }()
	require.NoError(t, waitErr(t, done))
	assert.Equal(t, 1, calls)

	var last Snapshot
	stop := f.sync.Subscribe(func(s Snapshot) { last = s })
	defer stop()
	go func() { done <- f.sync.Refresh(ctx) }()
	require.NoError(t, waitErr(t, done))
	assert.Equal(t, LoadLoaded, last.ListState)
	assert.Equal(t, 1, calls)
}

func TestSubscribeDuringDeliveryDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "A")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	stopSlow := f.sync.Subscribe(func(Snapshot) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	defer stopSlow()

	done := make(chan error, 1)
	go func() { done <- f.sync.Refresh(ctx) }()
	<-entered

	var mu sync.Mutex
	var states []LoadState
	subscribed := make(chan func(), 1)
	go func() {
		subscribed <- f.sync.Subscribe(func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s.ListState)
		})
	}()
	var stop func()
	select {
	case stop = <-subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe blocked while a notification was being delivered")
	}
	defer stop()

	close(release)
	require.NoError(t, waitErr(t, done))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, LoadLoaded, states[len(states)-1])
}

func TestListKeepsServerOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.srv.Handle(fakeremote.RouteListConversations, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversations":[
			{"id":1,"title":"Oldest","owner_id":1,"created_at":"2025-01-01T09:00:01.000000","updated_at":null},
			{"id":3,"title":"Newest","owner_id":1,"created_at":"2025-01-01T09:00:03.000000","updated_at":null},
			{"id":2,"title":"Middle","owner_id":1,"created_at":"2025-01-01T09:00:02.000000","updated_at":"2025-01-01T09:00:09.000000"}
		],"total":3}`))
	})

	require.NoError(t, f.sync.Refresh(ctx))

	snap := f.sync.Snapshot()
	ids := []int64{}
	for _, c := range snap.Conversations {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{1, 3, 2}, ids)
}

func TestDraftSendWithoutCredentialFails(t *testing.T) {
	ctx := context.Background()
	srv := fakeremote.New()
	t.Cleanup(srv.Close)

	creds := credentials.NewStore(nil, nil)
	gw, err := gateway.NewClient(srv.URL,
		gateway.WithURLPolicy(security.LocalDevelopmentPolicy),
		gateway.WithCredentials(creds),
	)
	require.NoError(t, err)
	s := New(api.NewClient(gw), creds, mode.New(ctx, nil))
	t.Cleanup(s.Close)

	localID, err := s.Send(ctx, "hello", DraftID)
	assert.True(t, errors.Is(err, ErrNotAuthenticated))

	snap := s.Snapshot()
	assert.Empty(t, snap.Conversations)
	m, ok := snap.Message(localID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, m.Status)
	assert.Equal(t, "not authenticated", m.Error)
	assert.Empty(t, srv.RequestsTo(fakeremote.RouteCreateConversation))
}

func TestCancelledSenderDoesNotFailSharedDraftCreate(t *testing.T) {
	f := newFixture(t)
	gate := f.srv.Hold(fakeremote.RouteCreateConversation)

	ctx1, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := f.sync.Send(ctx1, "one", DraftID)
		first <- err
	}()
	<-gate.Arrived()

	second := make(chan error, 1)
	go func() {
		_, err := f.sync.Send(context.Background(), "two", DraftID)
		second <- err
	}()
	require.Eventually(t, func() bool {
		return len(f.sync.Snapshot().Messages[DraftID]) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	gate.Release()
	require.NoError(t, waitErr(t, second))
	require.Error(t, waitErr(t, first))

	snap := f.sync.Snapshot()
	require.NotEmpty(t, snap.Conversations)
	statuses := map[string]Status{}
	for _, msgs := range snap.Messages {
		for _, m := range msgs {
			if m.Role == RoleUser {
				statuses[m.Content] = m.Status
			}
		}
	}
	assert.Equal(t, StatusSent, statuses["two"])
	assert.Equal(t, StatusFailed, statuses["one"])
}
