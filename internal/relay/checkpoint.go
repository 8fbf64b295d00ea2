package relay

import (
	"context"
	"fmt"

	"ghrelay/internal/matrix"
)

// History reads room history backward, newest first. *matrix.Client satisfies it.
type History interface {
	Messages(ctx context.Context, roomID, from string, limit int) (*matrix.MessagesPage, error)
}

const recoveryPageSize = 100

// RecoverWatermark scans the room transcript, newest first, for the last
// watermark tag this bot recorded. The transcript is the only durable store,
// so this is the sole restart-recovery mechanism. Messages from humans or
// other bots are skipped; the first (most recent) match wins. found is false
// when the history is exhausted without a match, meaning the next poll
// establishes a fresh baseline.
func RecoverWatermark(ctx context.Context, h History, roomID, selfID string) (token string, found bool, err error) {
	from := ""
	for {
		page, err := h.Messages(ctx, roomID, from, recoveryPageSize)
		if err != nil {
			return "", false, fmt.Errorf("read room history: %w", err)
		}

		for _, ev := range page.Chunk {
			if ev.Sender != selfID || ev.Type != "m.room.message" {
				continue
			}
			if mt, _ := ev.Content["msgtype"].(string); mt != "m.text" {
				continue
			}
			if wm, _ := ev.Content[matrix.WatermarkKey].(string); wm != "" {
				return wm, true, nil
			}
		}

		// An empty chunk, a missing end token, or a token that stopped
		// advancing all mean the history is exhausted.
		if len(page.Chunk) == 0 || page.End == "" || page.End == from {
			return "", false, nil
		}
		from = page.End
	}
}
