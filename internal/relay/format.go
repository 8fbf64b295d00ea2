package relay

import (
	"context"
	"html"
	"strings"
	"unicode"

	"ghrelay/internal/github"
)

// Format renders one notification as a single plain-text line:
//
//	Pull Request acme/widgets #42: Fix bug (Review requested)
func Format(n github.Notification) string {
	var b strings.Builder
	b.WriteString(subjectTypeWords(n.Subject.Type))
	b.WriteString(" ")
	b.WriteString(n.Repository.FullName)
	b.WriteString(" #")
	b.WriteString(itemNumber(n.Subject.URL))
	b.WriteString(": ")
	b.WriteString(n.Subject.Title)
	b.WriteString(" (")
	b.WriteString(reasonWords(n.Reason))
	b.WriteString(")")
	return b.String()
}

// FormatHTML renders the rich variant: the leading subject-type words become
// a hyperlink resolved through links. A resolution failure propagates so the
// caller can fail this one delivery.
func FormatHTML(ctx context.Context, n github.Notification, links *Linker) (string, error) {
	href, err := links.Resolve(ctx, n.Subject.URL)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(`<a href="`)
	b.WriteString(html.EscapeString(href))
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(subjectTypeWords(n.Subject.Type)))
	b.WriteString("</a> ")
	b.WriteString(html.EscapeString(n.Repository.FullName))
	b.WriteString(" #")
	b.WriteString(html.EscapeString(itemNumber(n.Subject.URL)))
	b.WriteString(": ")
	b.WriteString(html.EscapeString(n.Subject.Title))
	b.WriteString(" (")
	b.WriteString(html.EscapeString(reasonWords(n.Reason)))
	b.WriteString(")")
	return b.String(), nil
}

// subjectTypeWords splits a compound type tag at capitalization boundaries:
// "PullRequest" -> "Pull Request".
func subjectTypeWords(t string) string {
	var b strings.Builder
	for i, r := range t {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// reasonWords turns a reason code into prose: "review_requested" -> "Review requested".
func reasonWords(reason string) string {
	s := strings.ReplaceAll(reason, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// itemNumber is the trailing path segment of the subject's API reference.
func itemNumber(subjectURL string) string {
	s := strings.TrimRight(subjectURL, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
