package owlconfig

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Sirflyzoner/owlbot/internal/logfields"
)

const configFileName = ".OwlBot.yaml"

// ConfigEntry is one .OwlBot.yaml of a downstream repository, identified by
// its repository-relative path.
type ConfigEntry struct {
	Path   string
	Config *Config
}

// AffectedRepo is the result of matching a commit's touched files against
// the stored configurations of one repository.
// Yamls contains only the config entries whose path rules matched, in the
// store's declaration order.
type AffectedRepo struct {
	Repository Repository
	Yamls      []*ConfigEntry
}

// Store resolves which downstream repositories are affected by a set of
// changed source repository files.
type Store interface {
	FindReposAffectedByFileChanges(ctx context.Context, touchedFiles []string) ([]*AffectedRepo, error)
}

// DirStore is a Store backed by a local directory tree of .OwlBot.yaml
// mirrors, laid out as <owner>/<repository>/<path-in-repo>/.OwlBot.yaml.
type DirStore struct {
	logger  *zap.Logger
	repos   []Repository
	configs map[Repository][]*ConfigEntry
}

var _ Store = (*DirStore)(nil)

// NewDirStore loads every .OwlBot.yaml below dir.
// Files that fail to parse abort loading, a mirror directory with a broken
// config is considered corrupt.
func NewDirStore(dir string) (*DirStore, error) {
	store := DirStore{
		logger:  zap.L().Named("owlconfig_store"),
		configs: map[Repository][]*ConfigEntry{},
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || d.Name() != configFileName {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		parts := strings.SplitN(filepath.ToSlash(rel), "/", 3)
		if len(parts) < 3 {
			return fmt.Errorf("config file %q is not below an <owner>/<repository> directory", path)
		}

		repo := Repository{Owner: parts[0], Name: parts[1]}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		config, err := Parse(data)
		if err != nil {
			return fmt.Errorf("parsing %q failed: %w", path, err)
		}

		if _, seen := store.configs[repo]; !seen {
			store.repos = append(store.repos, repo)
		}

		store.configs[repo] = append(store.configs[repo], &ConfigEntry{
			Path:   parts[2],
			Config: config,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	// stable repository iteration order, configs inside a repository stay
	// in walk order
	sort.Slice(store.repos, func(i, j int) bool {
		return store.repos[i].String() < store.repos[j].String()
	})

	store.logger.Debug(
		"loaded owlbot configs",
		logfields.Event("owlbot_configs_loaded"),
		zap.String("config_dir", dir),
		zap.Int("repository_count", len(store.repos)),
	)

	return &store, nil
}

// FindReposAffectedByFileChanges matches the touched files against all
// stored configurations.
func (s *DirStore) FindReposAffectedByFileChanges(_ context.Context, touchedFiles []string) ([]*AffectedRepo, error) {
	var result []*AffectedRepo

	for _, repo := range s.repos {
		var matched []*ConfigEntry

		for _, entry := range s.configs[repo] {
			if configMatchesAny(entry.Config, touchedFiles) {
				matched = append(matched, entry)
			}
		}

		if len(matched) > 0 {
			result = append(result, &AffectedRepo{
				Repository: repo,
				Yamls:      matched,
			})
		}
	}

	return result, nil
}

// Configs returns all config entries of a repository, in declaration order.
func (s *DirStore) Configs(repo Repository) []*ConfigEntry {
	return s.configs[repo]
}

func configMatchesAny(config *Config, touchedFiles []string) bool {
	for _, file := range touchedFiles {
		if config.MatchesFile(file) {
			return true
		}
	}

	return false
}
