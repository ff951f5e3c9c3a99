// Package source provides policy document sources.
//
// FileSource reads a single YAML document from disk, can persist a
// replacement atomically, and can watch the file with fsnotify:
//
//	src := source.NewFileSource("policy.yaml")
//	err := src.Watch(ctx, 200*time.Millisecond, func(ctx context.Context) error {
//	    _, err := store.Reload(ctx, src)
//	    return err
//	})
//
// GitSource clones a repository with go-git, reads the document at a path
// inside it, and can poll the remote for new commits:
//
//	src, err := source.NewGitSource(&cfg.Policy.Git)
//	if err := src.Open(ctx); err != nil { ... }
//	go src.Poll(ctx, reload)
//
// Git sources are read-only; runtime replacements are not written back.
package source
