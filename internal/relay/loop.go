package relay

import (
	"context"
	"hash/fnv"
	"net/http"
	"slices"
	"strconv"
	"time"

	"ghrelay/internal/github"
	"ghrelay/internal/matrix"
	"ghrelay/pkg/logx"
)

// Poller issues one conditional notifications poll. *github.Client satisfies it.
type Poller interface {
	ListNotifications(ctx context.Context, since string) (*github.Page, error)
}

// Sender delivers one message to a room. *matrix.Client satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, roomID, txnID string, content map[string]any) error
}

const (
	// minPollInterval floors the server-suggested poll delay; it is also the
	// default when no suggestion is present and the fixed backoff after a
	// transient poll failure.
	minPollInterval = 60 * time.Second
)

// Loop is the per-account poll-and-deliver state machine. An empty watermark
// means no-baseline; a non-empty one means tracking. The watermark is only
// ever durably recorded inside delivered messages, never on local disk.
type Loop struct {
	gh     Poller
	room   Sender
	links  *Linker
	roomID string
	log    logx.Logger

	watermark string
	delay     time.Duration
}

func NewLoop(gh Poller, room Sender, links *Linker, roomID, watermark string, log logx.Logger) *Loop {
	return &Loop{
		gh:        gh,
		room:      room,
		links:     links,
		roomID:    roomID,
		watermark: watermark,
		log:       log,
		delay:     minPollInterval,
	}
}

// Run alternates poll and sleep until ctx is cancelled. There is no other
// terminal state; every failure mode inside a step degrades to a logged
// backoff, never an exit.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.step(ctx)

		timer := time.NewTimer(l.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// step performs one poll and applies the state transition for its outcome.
func (l *Loop) step(ctx context.Context) {
	page, err := l.gh.ListNotifications(ctx, l.watermark)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Rate limits and transport failures alike: state unchanged, fixed backoff.
		l.log.Warn("poll failed, backing off", logx.Err(err), logx.Duration("backoff", minPollInterval))
		l.delay = minPollInterval
		return
	}

	l.delay = clampInterval(page.PollInterval)

	switch {
	case page.NotModified:
		l.log.Debug("poll: not modified")

	case l.watermark == "":
		// First poll with no recovered checkpoint: the returned items predate
		// the bot or are unordered backlog, so none are delivered. The token
		// becomes the baseline and the loop transitions to tracking.
		if page.LastModified == "" {
			l.log.Warn("baseline poll returned no watermark token, staying unbaselined")
			return
		}
		l.watermark = page.LastModified
		l.log.Info("adopted baseline watermark",
			logx.String("watermark", l.watermark),
			logx.Int("skipped", len(page.Notifications)))

	default:
		l.track(ctx, page)
	}
}

// track handles a normal response while a watermark is held.
func (l *Loop) track(ctx context.Context, page *github.Page) {
	since, err := http.ParseTime(l.watermark)
	if err != nil {
		// A tag recovered from the transcript that we cannot date. Guessing an
		// instant risks re-flooding the room, so re-baseline instead.
		l.log.Warn("unreadable watermark, re-baselining",
			logx.String("watermark", l.watermark), logx.Err(err))
		l.watermark = page.LastModified
		return
	}

	if len(page.Notifications) == 0 {
		// Expected to have been answered as not-modified; odd but harmless.
		l.log.Warn("tracking poll returned zero items instead of not-modified")
	}

	for _, n := range freshNotifications(page.Notifications, since) {
		l.deliver(ctx, n)
	}

	if page.LastModified != "" {
		l.watermark = page.LastModified
	}
}

// deliver sends one notification to the room. The embedded watermark is the
// one active at send time (pre-adoption): after a crash, recovery then
// re-polls this batch and the deterministic transaction ID deduplicates
// anything already visible. Failures are logged and skipped; the loop offers
// at-least-once delivery, not exactly-once.
func (l *Loop) deliver(ctx context.Context, n github.Notification) {
	html, err := FormatHTML(ctx, n, l.links)
	if err != nil {
		l.log.Error("link resolution failed, skipping delivery",
			logx.String("notification", n.ID),
			logx.Time("updated_at", n.UpdatedAt),
			logx.Err(err))
		return
	}

	content := map[string]any{
		"msgtype":           "m.text",
		"body":              Format(n),
		"format":            "org.matrix.custom.html",
		"formatted_body":    html,
		matrix.WatermarkKey: l.watermark,
	}

	if err := l.room.SendMessage(ctx, l.roomID, DedupeKey(n), content); err != nil {
		l.log.Error("delivery failed",
			logx.String("notification", n.ID),
			logx.Time("updated_at", n.UpdatedAt),
			logx.Err(err))
		return
	}

	l.log.Info("delivered notification",
		logx.String("notification", n.ID),
		logx.String("repo", n.Repository.FullName),
		logx.Time("updated_at", n.UpdatedAt))
}

// freshNotifications keeps items strictly newer than since and orders them
// oldest-changed first (the feed's native order is newest first).
func freshNotifications(items []github.Notification, since time.Time) []github.Notification {
	fresh := make([]github.Notification, 0, len(items))
	for _, n := range items {
		if n.UpdatedAt.After(since) {
			fresh = append(fresh, n)
		}
	}
	slices.SortStableFunc(fresh, func(a, b github.Notification) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	return fresh
}

// DedupeKey derives the idempotent transaction ID for one notification event
// from its identity pair (id, updated_at). Retried sends of the same event
// target the same server-side key and collapse into one visible message.
func DedupeKey(n github.Notification) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.ID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(n.UpdatedAt.UTC().Format(time.RFC3339Nano)))
	return "ghrelay." + strconv.FormatUint(h.Sum64(), 16)
}

// clampInterval floors the suggested poll delay at minPollInterval and
// substitutes the default when no suggestion was made.
func clampInterval(suggested time.Duration) time.Duration {
	if suggested < minPollInterval {
		return minPollInterval
	}
	return suggested
}
