package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ghrelay/internal/github"
)

// fakeResolver is the remote-lookup fallback used across the package tests.
type fakeResolver struct {
	url   string
	err   error
	calls int
}

func (f *fakeResolver) ResolveHTMLURL(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func notif(id, typ, repo, title, url, reason string, updated time.Time) github.Notification {
	return github.Notification{
		ID:        id,
		Reason:    reason,
		UpdatedAt: updated,
		Subject: github.Subject{
			Title: title,
			URL:   url,
			Type:  typ,
		},
		Repository: github.Repository{FullName: repo},
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   github.Notification
		want string
	}{
		{
			name: "pull request with underscored reason",
			in: notif("1", "PullRequest", "acme/widgets", "Fix bug",
				"https://api.github.com/repos/acme/widgets/pulls/42", "review_requested", time.Now()),
			want: "Pull Request acme/widgets #42: Fix bug (Review requested)",
		},
		{
			name: "single word type and reason",
			in: notif("2", "Issue", "octo/cat", "Crash on start",
				"https://api.github.com/repos/octo/cat/issues/7", "mention", time.Now()),
			want: "Issue octo/cat #7: Crash on start (Mention)",
		},
		{
			name: "trailing slash on subject url",
			in: notif("3", "Release", "octo/cat", "v1.2.0",
				"https://api.github.com/repos/octo/cat/releases/99/", "subscribed", time.Now()),
			want: "Release octo/cat #99: v1.2.0 (Subscribed)",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, Format(tt.in)); diff != "" {
				t.Errorf("Format() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatHTML(t *testing.T) {
	t.Parallel()

	fallback := &fakeResolver{err: errors.New("should not be called")}
	links := NewLinker(fallback)

	n := notif("1", "PullRequest", "acme/widgets", "Fix <b>bug</b>",
		"https://api.github.com/repos/acme/widgets/pulls/42", "review_requested", time.Now())

	got, err := FormatHTML(context.Background(), n, links)
	if err != nil {
		t.Fatalf("FormatHTML() error: %v", err)
	}
	want := `<a href="https://github.com/acme/widgets/pull/42">Pull Request</a> ` +
		`acme/widgets #42: Fix &lt;b&gt;bug&lt;/b&gt; (Review requested)`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatHTML() mismatch (-want +got):\n%s", diff)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback resolver called %d times, want 0", fallback.calls)
	}
}

func TestFormatHTMLPropagatesResolverError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("insufficient scope")
	links := NewLinker(&fakeResolver{err: wantErr})

	n := notif("1", "Discussion", "acme/widgets", "Q&A",
		"https://api.github.com/repos/acme/widgets/discussions/5", "subscribed", time.Now())

	if _, err := FormatHTML(context.Background(), n, links); !errors.Is(err, wantErr) {
		t.Fatalf("FormatHTML() error = %v, want %v", err, wantErr)
	}
}
