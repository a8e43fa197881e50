package refresolve

import "path/filepath"

// resolveSymlinks resolves symlinks in path via filepath.EvalSymlinks,
// requiring the path to exist. A reference must resolve inside its
// configured root after symlink resolution, not merely in its literal form.
func resolveSymlinks(path string) (string, error) {
	return filepath.EvalSymlinks(path)
}
