package owlconfig

import (
	"fmt"
	"strings"
)

// Repository identifies a github repository.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// ParseRepository parses a repository in "owner/name" notation.
func ParseRepository(in string) (Repository, error) {
	owner, name, found := strings.Cut(in, "/")
	if !found || owner == "" || name == "" {
		return Repository{}, fmt.Errorf("invalid repository %q, expected format: owner/name", in)
	}

	return Repository{Owner: owner, Name: name}, nil
}
