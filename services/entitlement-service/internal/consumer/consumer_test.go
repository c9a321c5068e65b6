package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hospitalityhub/platform/libs/kafkax"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// logReader behaves like one partition of a consumer group: fetches advance a
// local position and only commits survive a restart.
type logReader struct {
	msgs      []kafka.Message
	pos       int
	committed int
	cancel    context.CancelFunc
}

func (r *logReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.pos >= len(r.msgs) {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[r.pos]
	r.pos++
	return m, nil
}

func (r *logReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = int(m.Offset) + 1
	}
	return nil
}

func (r *logReader) Close() error { return nil }

func (r *logReader) restart(cancel context.CancelFunc) {
	r.pos = r.committed
	r.cancel = cancel
}

type memInbox struct {
	seen      map[string]bool
	forgotten []string
}

func (m *memInbox) RecordInbox(_ context.Context, id, _ string) (bool, error) {
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memInbox) ForgetInbox(_ context.Context, id string) error {
	delete(m.seen, id)
	m.forgotten = append(m.forgotten, id)
	return nil
}

type fakeOnboarder struct {
	calls []string
	// failures is the number of calls that fail before one succeeds; negative fails forever.
	failures int
	onFail   func()
}

func (f *fakeOnboarder) Onboard(_ context.Context, id string, actor model.Actor) (model.Subscription, bool, error) {
	f.calls = append(f.calls, id)
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		if f.onFail != nil {
			f.onFail()
		}
		return model.Subscription{}, false, errors.New("db down")
	}
	return model.Subscription{EstablishmentID: id}, true, nil
}

func message(offset int64, eventID, body string) kafka.Message {
	return kafka.Message{
		Topic:   EstablishmentApprovedV1,
		Offset:  offset,
		Value:   []byte(body),
		Headers: kafkax.MetaHeaders(kafkax.EventMeta{EventID: eventID, EventType: EstablishmentApprovedV1}),
	}
}

func newTestConsumer(reader MessageReader, inbox Inbox, onb Onboarder) *Consumer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewWithReader(reader, logger, inbox, OnboardingHandler(onb, logger))
	c.retryMin = time.Millisecond
	c.retryMax = 4 * time.Millisecond
	return c
}

func TestConsumer_DedupesByEventID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &logReader{cancel: cancel, msgs: []kafka.Message{
		message(0, "evt-1", `{"establishment_id":"est-1"}`),
		message(1, "evt-1", `{"establishment_id":"est-1"}`),
		message(2, "evt-2", `{"establishment_id":"est-2"}`),
	}}
	onb := &fakeOnboarder{}
	newTestConsumer(reader, &memInbox{seen: map[string]bool{}}, onb).Run(ctx)

	if len(onb.calls) != 2 || onb.calls[0] != "est-1" || onb.calls[1] != "est-2" {
		t.Fatalf("unexpected onboard calls %v", onb.calls)
	}
	if reader.committed != 3 {
		t.Fatalf("expected all three offsets committed, got %d", reader.committed)
	}
}

func TestConsumer_EventsWithoutHeadersAreNotCollapsed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &logReader{cancel: cancel, msgs: []kafka.Message{
		{Topic: EstablishmentApprovedV1, Offset: 0, Value: []byte(`{"establishment_id":"est-1"}`)},
		{Topic: EstablishmentApprovedV1, Offset: 1, Value: []byte(`{"establishment_id":"est-2"}`)},
	}}
	onb := &fakeOnboarder{}
	newTestConsumer(reader, &memInbox{seen: map[string]bool{}}, onb).Run(ctx)

	if len(onb.calls) != 2 || onb.calls[0] != "est-1" || onb.calls[1] != "est-2" {
		t.Fatalf("expected both establishments onboarded, got %v", onb.calls)
	}
}

func TestConsumer_TransientFailureIsRetriedBeforeCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := &memInbox{seen: map[string]bool{}}
	reader := &logReader{cancel: cancel, msgs: []kafka.Message{
		message(0, "evt-1", `{"establishment_id":"est-1"}`),
	}}
	onb := &fakeOnboarder{failures: 2}
	newTestConsumer(reader, inbox, onb).Run(ctx)

	if len(onb.calls) != 3 {
		t.Fatalf("expected two retries, got calls %v", onb.calls)
	}
	if len(inbox.forgotten) != 2 || !inbox.seen["evt-1"] {
		t.Fatalf("unexpected inbox state seen=%v forgotten=%v", inbox.seen, inbox.forgotten)
	}
	if reader.committed != 1 {
		t.Fatalf("expected offset committed after success, got %d", reader.committed)
	}
}

func TestConsumer_FailedEventCanBeReplayed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := &memInbox{seen: map[string]bool{}}
	reader := &logReader{cancel: cancel, msgs: []kafka.Message{
		message(0, "evt-1", `{"establishment_id":"est-1"}`),
	}}
	onb := &fakeOnboarder{failures: -1}
	onb.onFail = func() {
		if len(onb.calls) >= 2 {
			cancel()
		}
	}
	newTestConsumer(reader, inbox, onb).Run(ctx)

	if reader.committed != 0 {
		t.Fatalf("failed event must stay uncommitted, got %d", reader.committed)
	}
	if inbox.seen["evt-1"] || len(inbox.forgotten) == 0 {
		t.Fatalf("failed event must not stay in the inbox: seen=%v forgotten=%v", inbox.seen, inbox.forgotten)
	}

	// After a restart the broker redelivers from the last commit.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	reader.restart(cancel2)
	onb.failures = 0
	onb.onFail = nil
	before := len(onb.calls)
	newTestConsumer(reader, inbox, onb).Run(ctx2)

	if len(onb.calls) != before+1 || onb.calls[before] != "est-1" {
		t.Fatalf("expected est-1 redelivered once, got %v", onb.calls[before:])
	}
	if reader.committed != 1 || !inbox.seen["evt-1"] {
		t.Fatalf("expected replayed event committed, committed=%d seen=%v", reader.committed, inbox.seen)
	}
}

func TestConsumer_PermanentFailureIsSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := &memInbox{seen: map[string]bool{}}
	reader := &logReader{cancel: cancel, msgs: []kafka.Message{
		message(0, "evt-bad", `not json`),
		message(1, "evt-empty", `{}`),
		message(2, "evt-2", `{"establishment_id":"est-2"}`),
	}}
	onb := &fakeOnboarder{}
	newTestConsumer(reader, inbox, onb).Run(ctx)

	if len(onb.calls) != 1 || onb.calls[0] != "est-2" {
		t.Fatalf("unexpected onboard calls %v", onb.calls)
	}
	if reader.committed != 3 {
		t.Fatalf("expected undecodable events committed, got %d", reader.committed)
	}
	if len(inbox.forgotten) != 2 {
		t.Fatalf("expected both skipped events forgotten, got %v", inbox.forgotten)
	}
}
