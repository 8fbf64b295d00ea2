// Package relay implements the core of the notification bridge: formatting,
// link resolution, checkpoint recovery from the room transcript, and the
// per-account poll-and-deliver loop.
package relay

import (
	"context"
	"fmt"

	"ghrelay/pkg/logx"
)

// ChatClient is the subset of the chat system the worker needs.
// *matrix.Client satisfies it.
type ChatClient interface {
	WhoAmI(ctx context.Context) (string, error)
	History
	Sender
}

// GitHubClient is the subset of the hosting platform the worker needs.
// *github.Client satisfies it.
type GitHubClient interface {
	Poller
	Resolver
}

// Worker owns one (hosting account, chat room) pairing. Workers share no
// state with each other; each holds its own clients and watermark.
type Worker struct {
	name   string
	roomID string
	gh     GitHubClient
	chat   ChatClient
	log    logx.Logger
}

func NewWorker(name, roomID string, gh GitHubClient, chat ChatClient, log logx.Logger) *Worker {
	return &Worker{name: name, roomID: roomID, gh: gh, chat: chat, log: log}
}

// Run recovers the last checkpoint from the room transcript, then polls
// until ctx is cancelled. Startup failures (identity lookup, history read)
// return to the supervisor; once the loop is running, nothing short of
// cancellation stops it.
func (w *Worker) Run(ctx context.Context) error {
	self, err := w.chat.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("account %s: identity lookup: %w", w.name, err)
	}

	watermark, found, err := RecoverWatermark(ctx, w.chat, w.roomID, self)
	if err != nil {
		return fmt.Errorf("account %s: checkpoint recovery: %w", w.name, err)
	}
	if found {
		w.log.Info("recovered checkpoint from room transcript",
			logx.String("watermark", watermark))
	} else {
		w.log.Info("no prior checkpoint in room transcript, first poll sets the baseline")
	}

	loop := NewLoop(w.gh, w.chat, NewLinker(w.gh), w.roomID, watermark, w.log)
	return loop.Run(ctx)
}
