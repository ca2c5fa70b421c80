// Package scan walks the commit history of a generated-code source
// repository and schedules copy operations into affected downstream
// repositories.
//
// Commits are examined newest first. For every commit the configuration
// store resolves the affected downstream repositories, commits behind a
// repository's begin-after-commit-hash boundary are skipped, and
// (config-path, commit) combinations that a previous build already copied
// are filtered out via the copy-state ledger. The remaining work is batched
// into todos and replayed oldest commit first, so downstream pull requests
// are created in causal commit order.
//
// Scanning stops early once a commit affects at least one repository but
// yields no new todo, everything older is then guaranteed to be fully
// reflected downstream already. A commit affecting no repository at all
// does not stop the scan, it may simply be irrelevant.
package scan
