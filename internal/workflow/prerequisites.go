package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// PathChecker checks prerequisite paths relative to a repository root.
type PathChecker struct {
	Root string
}

// Missing returns every path that does not exist under Root.
func (c PathChecker) Missing(ctx context.Context, paths []string) ([]string, error) {
	var missing []string
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full := p
		if !filepath.IsAbs(p) {
			full = filepath.Join(c.Root, p)
		}
		_, err := os.Stat(full)
		switch {
		case err == nil:
		case os.IsNotExist(err):
			missing = append(missing, p)
		default:
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return missing, nil
}
