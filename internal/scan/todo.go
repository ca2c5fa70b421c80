package scan

import (
	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
)

// todo is one outstanding copy operation, resulting in one pull request.
type todo struct {
	repo       owlconfig.Repository
	commitHash string
	yamlPaths  []string
}

// todoStack collects todos in newest-commit-first order during scanning.
// Replay consumes it in reverse, so the todo of the oldest processed commit
// is executed first.
type todoStack struct {
	items []*todo
}

func (s *todoStack) push(t *todo) {
	s.items = append(s.items, t)
}

func (s *todoStack) len() int {
	return len(s.items)
}

// reversed returns the todos in replay order, oldest pushed item last comes
// first. The stack itself is not modified.
func (s *todoStack) reversed() []*todo {
	result := make([]*todo, 0, len(s.items))

	for i := len(s.items) - 1; i >= 0; i-- {
		result = append(result, s.items[i])
	}

	return result
}
