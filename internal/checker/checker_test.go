package checker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gigwatch/internal/catalog"
	"gigwatch/internal/dispatcher"
	"gigwatch/internal/geo"
	"gigwatch/internal/storage"
	"gigwatch/internal/subscribers"
	"gigwatch/pkg/logx"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type catalogMock struct{ mock.Mock }

func (m *catalogMock) FetchEvents(ctx context.Context, name string) ([]catalog.Event, error) {
	args := m.Called(ctx, name)
	ev, _ := args.Get(0).([]catalog.Event)
	return ev, args.Error(1)
}

type geocoderMock struct{ mock.Mock }

func (m *geocoderMock) Reverse(ctx context.Context, lat, lon float64) (geo.Place, bool, error) {
	args := m.Called(ctx, lat, lon)
	return args.Get(0).(geo.Place), args.Bool(1), args.Error(2)
}

type staticSubscribers []subscribers.Subscriber

func (s staticSubscribers) Load(context.Context) ([]subscribers.Subscriber, error) { return s, nil }

type staticFavorites struct {
	mu    sync.Mutex
	by    map[string][]string
	errs  map[string]error
	calls int
}

func (f *staticFavorites) FavoriteArtists(_ context.Context, sub subscribers.Subscriber) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[sub.ID]; err != nil {
		return nil, err
	}
	return f.by[sub.ID], nil
}

type memQueue struct {
	mu   sync.Mutex
	msgs []dispatcher.Message
	err  error
	// onEnqueue runs after a message is accepted.
	onEnqueue func()
}

func (q *memQueue) Enqueue(m dispatcher.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, m)
	if q.onEnqueue != nil {
		q.onEnqueue()
	}
	return nil
}

type brokenLedger struct{}

func (brokenLedger) IsNotified(context.Context, string, string) (bool, error) {
	return false, &storage.StorageError{Op: "read", Err: errors.New("unexpected end of JSON input")}
}

func (brokenLedger) MarkNotified(context.Context, string, string) error { return nil }

func event(t *testing.T, raw string) catalog.Event {
	t.Helper()
	var ev catalog.Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

type harness struct {
	cat        *catalogMock
	geo        *geocoderMock
	fav        *staticFavorites
	queue      *memQueue
	ledger     storage.Ledger
	ledgerPath string
	checker    *Checker
}

func newHarness(t *testing.T, subs staticSubscribers, favorites map[string][]string) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notified.json")
	l, err := storage.Open(context.Background(), storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	h := &harness{
		cat:        &catalogMock{},
		geo:        &geocoderMock{},
		fav:        &staticFavorites{by: favorites},
		queue:      &memQueue{},
		ledger:     l,
		ledgerPath: path,
	}
	h.checker = New(Deps{
		Subscribers: subs,
		Favorites:   h.fav,
		Catalog:     h.cat,
		Ledger:      h.ledger,
		Queue:       h.queue,
		Geocoder:    h.geo,
	}, logx.Nop())
	return h
}

const berlinEvent = `{
  "id":"E1","name":"The Beatles Live","url":"https://tm.example/e1",
  "dates":{"start":{"localDate":"2025-07-01"}},
  "_embedded":{
    "venues":[{"name":"Waldbühne","city":{"name":"Berlin"},"country":{"name":"Germany"},
               "location":{"latitude":"52.5","longitude":"13.4"}}],
    "attractions":[{"name":"The Beatles"}]}}`

func TestRunSkipsMismatchedAttraction(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"Beatles Tribute Band"}})
	h.cat.On("FetchEvents", mock.Anything, "Beatles Tribute Band").Return([]catalog.Event{event(t, berlinEvent)}, nil)

	rep, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, h.queue.msgs)
	require.Equal(t, 1, rep.SkippedMismatch)
	require.Zero(t, rep.Notified)

	ok, err := h.ledger.IsNotified(context.Background(), "100", "E1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunUsesVenueLocation(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"the beatles"}})
	h.cat.On("FetchEvents", mock.Anything, "the beatles").Return([]catalog.Event{event(t, berlinEvent)}, nil)

	rep, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Notified)
	require.NotEmpty(t, rep.RunID)
	require.Len(t, h.queue.msgs, 1)

	msg := h.queue.msgs[0]
	require.EqualValues(t, 100, msg.Recipient.ChatID)
	require.Contains(t, msg.Text, "Location: Berlin, Germany")
	require.Contains(t, msg.Text, "Venue: Waldbühne")
	require.Contains(t, msg.Text, "[Get Tickets](https://tm.example/e1)")
	h.geo.AssertNotCalled(t, "Reverse", mock.Anything, mock.Anything, mock.Anything)

	ok, err := h.ledger.IsNotified(context.Background(), "100", "E1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunGeocodesMissingVenueLocation(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"The Beatles"}})
	h.cat.On("FetchEvents", mock.Anything, "The Beatles").Return([]catalog.Event{event(t, `{
	  "id":"E2","dates":{"start":{"localDate":"2025-08-02"}},
	  "_embedded":{"venues":[{"location":{"latitude":"52.5","longitude":"13.4"}}],
	               "attractions":[{"name":"The Beatles"}]}}`)}, nil)
	h.geo.On("Reverse", mock.Anything, 52.5, 13.4).Return(geo.Place{City: "Berlin", Country: "Germany"}, true, nil).Once()

	_, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.queue.msgs, 1)
	require.Contains(t, h.queue.msgs[0].Text, "Location: Berlin, Germany")
	require.NotContains(t, h.queue.msgs[0].Text, "Get Tickets")
	h.geo.AssertExpectations(t)
}

func TestRunOmitsUnresolvedLocation(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"The Beatles"}})
	h.cat.On("FetchEvents", mock.Anything, "The Beatles").Return([]catalog.Event{event(t, `{
	  "id":"E3","_embedded":{"venues":[{"location":{"latitude":"0","longitude":"0"}}],
	               "attractions":[{"name":"The Beatles"}]}}`)}, nil)
	h.geo.On("Reverse", mock.Anything, 0.0, 0.0).Return(geo.Place{}, false, errors.New("timeout"))

	rep, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Notified)
	require.NotContains(t, h.queue.msgs[0].Text, "Location")
}

func TestSecondRunDoesNotRenotify(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"The Beatles"}})
	h.cat.On("FetchEvents", mock.Anything, "The Beatles").Return([]catalog.Event{event(t, berlinEvent)}, nil)

	_, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.queue.msgs, 1)
	before, err := os.ReadFile(h.ledgerPath)
	require.NoError(t, err)

	rep, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.queue.msgs, 1, "no new message")
	require.Equal(t, 1, rep.SkippedNotified)

	after, err := os.ReadFile(h.ledgerPath)
	require.NoError(t, err)
	require.Equal(t, before, after, "ledger unchanged")
}

func TestRunAbortsOnQuotaExhausted(t *testing.T) {
	h := newHarness(t,
		staticSubscribers{{ID: "100"}, {ID: "200"}},
		map[string][]string{"100": {"A", "B"}, "200": {"C"}},
	)
	h.cat.On("FetchEvents", mock.Anything, "A").Return(nil, catalog.ErrQuotaExhausted)

	rep, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Aborted)
	require.Equal(t, 1, h.fav.calls, "no further subscribers processed")
	h.cat.AssertNotCalled(t, "FetchEvents", mock.Anything, "B")
}

func TestRunSkipsArtistOnUpstreamError(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"Broken", "The Beatles"}})
	h.cat.On("FetchEvents", mock.Anything, "Broken").Return(nil, &catalog.UpstreamError{Endpoint: "events", Status: 500})
	h.cat.On("FetchEvents", mock.Anything, "The Beatles").Return([]catalog.Event{event(t, berlinEvent)}, nil)

	rep, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Errors)
	require.Equal(t, 1, rep.Notified)
}

func TestRunSkipsInvalidChatID(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "not-a-number"}}, nil)

	rep, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Errors)
	require.Zero(t, h.fav.calls)
}

func TestRunFailsOnStorageError(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"The Beatles"}})
	h.cat.On("FetchEvents", mock.Anything, "The Beatles").Return([]catalog.Event{event(t, berlinEvent)}, nil)
	h.checker.d.Ledger = brokenLedger{}

	_, err := h.checker.Run(context.Background())
	var se *storage.StorageError
	require.True(t, errors.As(err, &se), "got %v", err)
	require.Empty(t, h.queue.msgs)
}

func TestRunFailsWhenQueueRejects(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"The Beatles"}})
	h.cat.On("FetchEvents", mock.Anything, "The Beatles").Return([]catalog.Event{event(t, berlinEvent)}, nil)
	h.queue.err = dispatcher.ErrStopped

	_, err := h.checker.Run(context.Background())
	require.ErrorIs(t, err, dispatcher.ErrStopped)

	ok, lerr := h.ledger.IsNotified(context.Background(), "100", "E1")
	require.NoError(t, lerr)
	require.False(t, ok, "pair is not recorded when enqueue fails")
}

func TestRunCanceledDuringGeocodeEnqueuesNothing(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"The Beatles"}})
	h.cat.On("FetchEvents", mock.Anything, "The Beatles").Return([]catalog.Event{event(t, `{
	  "id":"E2","_embedded":{"venues":[{"location":{"latitude":"52.5","longitude":"13.4"}}],
	               "attractions":[{"name":"The Beatles"}]}}`)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.geo.On("Reverse", mock.Anything, 52.5, 13.4).
		Run(func(mock.Arguments) { cancel() }).
		Return(geo.Place{}, false, context.Canceled)

	rep, err := h.checker.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, h.queue.msgs)
	require.Zero(t, rep.Notified)

	ok, lerr := h.ledger.IsNotified(context.Background(), "100", "E2")
	require.NoError(t, lerr)
	require.False(t, ok)
}

func TestRunCanceledAfterEnqueueStillRecords(t *testing.T) {
	h := newHarness(t, staticSubscribers{{ID: "100"}}, map[string][]string{"100": {"The Beatles", "Other"}})
	h.cat.On("FetchEvents", mock.Anything, "The Beatles").Return([]catalog.Event{event(t, berlinEvent)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.queue.onEnqueue = cancel

	_, err := h.checker.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.queue.msgs, 1)
	h.cat.AssertNotCalled(t, "FetchEvents", mock.Anything, "Other")

	ok, lerr := h.ledger.IsNotified(context.Background(), "100", "E1")
	require.NoError(t, lerr)
	require.True(t, ok, "queued pair is recorded")
}

func TestRunContinuesAfterFavoritesFailure(t *testing.T) {
	h := newHarness(t,
		staticSubscribers{{ID: "100"}, {ID: "200"}},
		map[string][]string{"200": {"The Beatles"}},
	)
	h.fav.errs = map[string]error{"100": errors.New("spotify /me/tracks: status 503")}
	h.cat.On("FetchEvents", mock.Anything, "The Beatles").Return([]catalog.Event{event(t, berlinEvent)}, nil)

	rep, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.Subscribers)
	require.Equal(t, 1, rep.Errors)
	require.Equal(t, 1, rep.Notified)
	require.Len(t, h.queue.msgs, 1)
	require.EqualValues(t, 200, h.queue.msgs[0].Recipient.ChatID)
}

func TestRunRateLimitedSkipsArtistThenAborts(t *testing.T) {
	h := newHarness(t,
		staticSubscribers{{ID: "100"}, {ID: "200"}},
		map[string][]string{"100": {"Throttled", "Next", "Never"}, "200": {"The Beatles"}},
	)
	h.cat.On("FetchEvents", mock.Anything, "Throttled").Return(nil, catalog.ErrRateLimited)
	h.cat.On("FetchEvents", mock.Anything, "Next").Return(nil, catalog.ErrQuotaExhausted)

	rep, err := h.checker.Run(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Aborted)
	require.Equal(t, 1, rep.Errors, "rate limit counts as a skipped artist")
	require.Empty(t, h.queue.msgs)
	h.cat.AssertCalled(t, "FetchEvents", mock.Anything, "Next")
	h.cat.AssertNotCalled(t, "FetchEvents", mock.Anything, "Never")
	h.cat.AssertNotCalled(t, "FetchEvents", mock.Anything, "The Beatles")
	require.Equal(t, 1, h.fav.calls)
}
