// Package logx configures ghrelay's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional Matrix room sink (min-level + rate limiting)
//
// Room logging is meant for concise operator visibility inside the same
// homeserver the relay already talks to. Lines are sent as m.notice events so
// checkpoint recovery never mistakes them for delivery records.
package logx
