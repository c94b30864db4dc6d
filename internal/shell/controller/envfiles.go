package controller

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/compose-spec/compose-go/v2/dotenv"
	"github.com/mfeldt/stackup/internal/core/stack"
)

// =============================================================================
// Env File Resolution
// =============================================================================

// resolveEnvFiles reads a service's env files in declaration order and merges
// them, later files overriding earlier ones. Relative paths are resolved
// against baseDir, the directory of the stack file.
//
// A missing optional file is skipped; a missing required file fails the
// service (and only that service).
func resolveEnvFiles(svc stack.Service, baseDir string) (map[string]string, error) {
	if len(svc.EnvFiles) == 0 {
		return nil, nil
	}

	merged := make(map[string]string)
	for _, ef := range svc.EnvFiles {
		path := ef.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				if !ef.Required {
					continue
				}
				return nil, fmt.Errorf("env file %s: %w", ef.Path, ErrEnvFileMissing)
			}
			// Unreadable is not missing; keep the real cause.
			return nil, fmt.Errorf("env file %s: %w", ef.Path, err)
		}

		vars, err := dotenv.Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", ef.Path, err)
		}

		for k, v := range vars {
			merged[k] = v
		}
	}

	return merged, nil
}
