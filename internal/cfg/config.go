package cfg

import (
	"io"

	"github.com/pelletier/go-toml"
)

type Config struct {
	// SourceRepository is the generated-code repository whose history is
	// scanned, in "owner/name" notation.
	SourceRepository string `toml:"source_repository"`
	GithubAPIToken   string `toml:"github_api_token"`

	// WorkDir is where source repository clones are kept between runs.
	WorkDir string `toml:"work_dir"`
	// ConfigMirrorDir contains the downstream .OwlBot.yaml mirrors, laid
	// out as <owner>/<repository>/<path-in-repo>/.OwlBot.yaml.
	ConfigMirrorDir string `toml:"config_mirror_dir"`
	// LedgerPath is the path of the sqlite copy-state database.
	LedgerPath string `toml:"ledger_path"`

	CloneDepth int `toml:"clone_depth" default:"100"`
	// CombinePullsThreshold combines all config-paths of one commit into a
	// single pull request when more than this many need copying.
	// 0 means unbounded (never combine).
	CombinePullsThreshold int `toml:"combine_pulls_threshold"`
	// MaxYamlCountPerPullRequest caps how many config-paths one physical
	// pull request may carry. 0 means unbounded.
	MaxYamlCountPerPullRequest int  `toml:"max_yaml_count_per_pull_request"`
	DraftPullRequests          bool `toml:"draft_pull_requests"`
	// UseNestedCommitDelimiters wraps inlined commit messages in
	// BEGIN/END marker lines.
	UseNestedCommitDelimiters bool `toml:"use_nested_commit_delimiters"`

	MetricsListenAddr string `toml:"metrics_listen_addr"`

	LogFormat  string `toml:"log_format" default:"logfmt"`
	LogTimeKey string `toml:"log_time_key"`
	LogLevel   string `toml:"log_level" default:"info"`
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (r *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(r)
}
