package copier

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
)

// copyCode applies one configuration to the checkouts: files matching a
// deep-remove-regex are deleted from the destination, then every source file
// matching a deep-copy-regex is copied to its rewritten destination path.
// Paths are matched in the absolute-style form used by the configuration,
// prefixed with a path separator.
func copyCode(srcRoot, dstRoot string, config *owlconfig.Config) error {
	for _, pattern := range config.DeepRemoveRegexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid deep-remove-regex %q: %w", pattern, err)
		}

		if err := removeMatching(dstRoot, re); err != nil {
			return err
		}
	}

	sourceRegexes := config.SourceRegexes()

	for i, dcr := range config.DeepCopyRegexes {
		re := sourceRegexes[i]

		err := walkFiles(srcRoot, func(relPath string) error {
			if !re.MatchString(relPath) {
				return nil
			}

			destRel := re.ReplaceAllString(relPath, dcr.Dest)

			return copyFile(
				filepath.Join(srcRoot, filepath.FromSlash(relPath)),
				filepath.Join(dstRoot, filepath.FromSlash(destRel)),
			)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func removeMatching(root string, re *regexp.Regexp) error {
	var doomed []string

	err := walkFiles(root, func(relPath string) error {
		if re.MatchString(relPath) {
			doomed = append(doomed, filepath.Join(root, filepath.FromSlash(relPath)))
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, path := range doomed {
		if err := os.Remove(path); err != nil {
			return err
		}
	}

	return nil
}

// walkFiles calls fn for every regular file below root, excluding the .git
// directory, with the file's slash-separated path relative to root and
// prefixed with a path separator.
func walkFiles(root string, fn func(relPath string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}

			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		return fn("/" + filepath.ToSlash(rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
