package copier

import (
	"fmt"
	"strings"

	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
)

// Markers wrapping an inlined source commit message, downstream tooling uses
// them to split squashed pull request bodies back into individual commit
// messages.
const (
	beginNestedCommitMarker = "BEGIN_NESTED_COMMIT"
	endNestedCommitMarker   = "END_NESTED_COMMIT"
)

type message struct {
	title string
	body  string
}

func (m message) full() string {
	if m.body == "" {
		return m.title
	}

	return m.title + "\n\n" + m.body
}

// commitMessage derives the downstream commit and pull request message from
// the source commit's message.
// The source commit's subject becomes the title, the remainder plus a
// Source-Link trailer the body.
func commitMessage(summary string, sourceRepo owlconfig.Repository, commitHash string, nestedDelimiters bool) message {
	subject, rest, _ := strings.Cut(summary, "\n")
	subject = strings.TrimSpace(subject)
	rest = strings.TrimSpace(rest)

	sourceLink := fmt.Sprintf("Source-Link: https://github.com/%s/commit/%s", sourceRepo, commitHash)

	var body strings.Builder

	switch {
	case nestedDelimiters:
		body.WriteString(beginNestedCommitMarker + "\n")
		body.WriteString(strings.TrimSpace(summary) + "\n")
		body.WriteString(endNestedCommitMarker + "\n\n")
	case rest != "":
		body.WriteString(rest + "\n\n")
	}

	body.WriteString(sourceLink)

	return message{
		title: subject,
		body:  body.String(),
	}
}
