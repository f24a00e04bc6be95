// Package checker runs one notification pass: subscribers, their favorite artists,
// catalog events, ledger check, enqueue, record.
package checker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gigwatch/internal/catalog"
	"gigwatch/internal/dispatcher"
	"gigwatch/internal/geo"
	"gigwatch/internal/metrics"
	"gigwatch/internal/subscribers"
	kit "gigwatch/internal/transport"
	"gigwatch/pkg/logx"

	"github.com/google/uuid"
)

type Catalog interface {
	FetchEvents(ctx context.Context, name string) ([]catalog.Event, error)
}

type Ledger interface {
	IsNotified(ctx context.Context, subscriber, eventID string) (bool, error)
	MarkNotified(ctx context.Context, subscriber, eventID string) error
}

type Queue interface {
	Enqueue(m dispatcher.Message) error
}

type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (geo.Place, bool, error)
}

type Favorites interface {
	FavoriteArtists(ctx context.Context, sub subscribers.Subscriber) ([]string, error)
}

type SubscriberSource interface {
	Load(ctx context.Context) ([]subscribers.Subscriber, error)
}

// Deps are the collaborators of a Checker. Geocoder and Metrics are optional.
type Deps struct {
	Subscribers SubscriberSource
	Favorites   Favorites
	Catalog     Catalog
	Ledger      Ledger
	Queue       Queue
	Geocoder    Geocoder
	Metrics     *metrics.Metrics
}

// Report summarizes one run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration

	Subscribers     int
	Artists         int
	Events          int
	Notified        int
	SkippedMismatch int
	SkippedNotified int
	Errors          int

	// Aborted is set when the catalog quota ran out mid-run.
	Aborted bool
}

type Checker struct {
	d   Deps
	log logx.Logger
}

func New(d Deps, log logx.Logger) *Checker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Checker{d: d, log: log}
}

// Run processes every subscriber once.
//
// Catalog quota exhaustion ends the run early with Report.Aborted set and a nil error.
// Ledger and enqueue failures end the run with an error.
func (c *Checker) Run(ctx context.Context) (rep Report, err error) {
	rep = Report{RunID: uuid.NewString(), Started: time.Now()}
	log := c.log.With(logx.String("run_id", rep.RunID))
	defer func() {
		rep.Duration = time.Since(rep.Started)
		result := "ok"
		switch {
		case err != nil:
			result = "failed"
		case rep.Aborted:
			result = "aborted"
		}
		c.d.Metrics.CheckRun(result)
	}()

	subs, err := c.d.Subscribers.Load(ctx)
	if err != nil {
		return rep, fmt.Errorf("load subscribers: %w", err)
	}
	log.Info("check run started", logx.Int("subscribers", len(subs)))

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Subscribers++
		stop, err := c.runSubscriber(ctx, log.With(logx.String("subscriber", sub.ID)), sub, &rep)
		if err != nil {
			return rep, err
		}
		if stop {
			rep.Aborted = true
			break
		}
	}

	log.Info("check run finished",
		logx.Int("subscribers", rep.Subscribers),
		logx.Int("artists", rep.Artists),
		logx.Int("events", rep.Events),
		logx.Int("notified", rep.Notified),
		logx.Int("skipped_mismatch", rep.SkippedMismatch),
		logx.Int("skipped_notified", rep.SkippedNotified),
		logx.Int("errors", rep.Errors),
		logx.Bool("aborted", rep.Aborted),
		logx.Duration("took", time.Since(rep.Started)),
	)
	return rep, nil
}

// runSubscriber reports stop=true when the run must be abandoned without error.
func (c *Checker) runSubscriber(ctx context.Context, log logx.Logger, sub subscribers.Subscriber, rep *Report) (bool, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(sub.ID), 10, 64)
	if err != nil {
		rep.Errors++
		log.Warn("invalid subscriber chat id, skipping", logx.Err(err))
		return false, nil
	}

	artists, err := c.d.Favorites.FavoriteArtists(ctx, sub)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		rep.Errors++
		log.Error("fetch favorite artists failed, skipping subscriber", logx.Err(err))
		return false, nil
	}
	log.Info("favorite artists loaded", logx.Int("count", len(artists)))

	for _, artist := range artists {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		rep.Artists++
		events, err := c.d.Catalog.FetchEvents(ctx, artist)
		switch catalog.Classify(err) {
		case catalog.KindOK:
		case catalog.KindQuotaExhausted:
			log.Warn("catalog quota exhausted, aborting run", logx.String("artist", artist))
			return true, nil
		default:
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			rep.Errors++
			log.Warn("fetch events failed, skipping artist", logx.String("artist", artist), logx.Err(err))
			continue
		}

		for _, ev := range events {
			rep.Events++
			if err := c.filterAndNotify(ctx, log, sub.ID, chatID, artist, ev, rep); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func (c *Checker) filterAndNotify(ctx context.Context, log logx.Logger, subID string, chatID int64, artist string, ev catalog.Event, rep *Report) error {
	if matched := ev.MatchedName(); !strings.EqualFold(matched, artist) {
		rep.SkippedMismatch++
		c.d.Metrics.Skipped("mismatch")
		log.Warn("event does not match artist",
			logx.String("event", ev.Name), logx.String("artist", artist), logx.String("matched", matched))
		return nil
	}

	seen, err := c.d.Ledger.IsNotified(ctx, subID, ev.ID)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if seen {
		rep.SkippedNotified++
		c.d.Metrics.Skipped("already_notified")
		log.Debug("event already notified", logx.String("event_id", ev.ID))
		return nil
	}

	loc := c.resolveLocation(ctx, log, ev)
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := dispatcher.Message{
		Recipient: kit.ChatTarget{ChatID: chatID},
		Text:      formatAlert(artist, ev, loc),
		Options:   &kit.SendOptions{ParseMode: kit.ParseMarkdown},
	}
	if err := c.d.Queue.Enqueue(msg); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	// Once queued the pair must be recorded even if the run is canceled now.
	if err := c.d.Ledger.MarkNotified(context.WithoutCancel(ctx), subID, ev.ID); err != nil {
		return fmt.Errorf("ledger record: %w", err)
	}
	rep.Notified++
	c.d.Metrics.Notified()
	log.Info("notification queued", logx.String("event_id", ev.ID), logx.String("artist", artist))
	return nil
}

// resolveLocation returns "" when no location could be determined.
func (c *Checker) resolveLocation(ctx context.Context, log logx.Logger, ev catalog.Event) string {
	v, ok := ev.Venue()
	if !ok {
		return ""
	}
	city, country := strings.TrimSpace(v.City.Name), strings.TrimSpace(v.Country.Name)
	if city != "" && country != "" {
		return formatLocation(city, country)
	}
	if c.d.Geocoder == nil {
		return ""
	}
	lat, lon, ok := v.Coordinates()
	if !ok {
		return ""
	}
	place, ok, err := c.d.Geocoder.Reverse(ctx, lat, lon)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn("reverse geocode failed", logx.String("event_id", ev.ID), logx.Err(err))
		}
		return ""
	}
	if !ok {
		return ""
	}
	return formatLocation(place.City, place.Country)
}
