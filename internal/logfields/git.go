package logfields

import "go.uber.org/zap"

func PullRequest(val int) zap.Field {
	return zap.Int("github.pull_request", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func RepositoryOwner(val string) zap.Field {
	return zap.String("github.repository_owner", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func CommitIndex(val int) zap.Field {
	return zap.Int("git.commit_index", val)
}

func Branch(val string) zap.Field {
	return zap.String("git.branch", val)
}

func ConfigPath(val string) zap.Field {
	return zap.String("owlbot.config_path", val)
}

func ConfigPaths(val []string) zap.Field {
	return zap.Strings("owlbot.config_paths", val)
}
