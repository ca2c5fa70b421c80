// Package owlconfig loads and matches the per-repository .OwlBot.yaml
// configuration describing which source repository paths are copied into
// which downstream repository.
package owlconfig

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DeepCopyRegex maps a source repository path pattern to a destination path
// template in the downstream repository.
type DeepCopyRegex struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

// Config is a parsed .OwlBot.yaml file.
type Config struct {
	DeepCopyRegexes      []DeepCopyRegex `yaml:"deep-copy-regex"`
	DeepRemoveRegexes    []string        `yaml:"deep-remove-regex"`
	BeginAfterCommitHash string          `yaml:"begin-after-commit-hash"`
	Squash               bool            `yaml:"squash"`
	APIName              string          `yaml:"api-name"`

	sourceRegexes []*regexp.Regexp
}

// Parse unmarshals and validates a .OwlBot.yaml document.
// All deep-copy-regex source patterns must be valid regular expressions.
func Parse(data []byte) (*Config, error) {
	var result Config

	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.sourceRegexes = make([]*regexp.Regexp, 0, len(result.DeepCopyRegexes))
	for _, dcr := range result.DeepCopyRegexes {
		re, err := regexp.Compile(dcr.Source)
		if err != nil {
			return nil, fmt.Errorf("invalid deep-copy-regex source %q: %w", dcr.Source, err)
		}

		result.sourceRegexes = append(result.sourceRegexes, re)
	}

	return &result, nil
}

// MatchesFile returns true if any deep-copy-regex source pattern matches the
// touched file path. Paths are expected to start with a path separator.
func (c *Config) MatchesFile(path string) bool {
	for _, re := range c.sourceRegexes {
		if re.MatchString(path) {
			return true
		}
	}

	return false
}

// SourceRegexes returns the compiled deep-copy-regex source patterns, in
// declaration order.
func (c *Config) SourceRegexes() []*regexp.Regexp {
	return c.sourceRegexes
}
