package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// accessDeniedMsg is returned for any path resolving outside the workspace.
const accessDeniedMsg = "Access denied — path outside workspace"

// resolveSafely resolves p against root and rejects any result that escapes
// the normalised root. No filesystem access happens on rejection.
func resolveSafely(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid workspace root: %w", err)
	}
	resolved := p
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(absRoot, resolved)
	}
	resolved = filepath.Clean(resolved)

	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%s", accessDeniedMsg)
	}
	return resolved, nil
}

// ReadFile reads a file inside the workspace.
func (r *Registry) ReadFile(ctx context.Context, path string) Result {
	resolved, err := resolveSafely(r.workspaceRoot, path)
	if err != nil {
		return fail("%v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fail("failed to read %s: %v", path, err)
	}
	return ok(map[string]string{"path": path, "content": string(data)})
}

// FileEntry is one list_files row.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ListFiles lists a directory inside the workspace. Path defaults to the
// workspace root.
func (r *Registry) ListFiles(ctx context.Context, path string) Result {
	if path == "" {
		path = "."
	}
	resolved, err := resolveSafely(r.workspaceRoot, path)
	if err != nil {
		return fail("%v", err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return fail("failed to list %s: %v", path, err)
	}
	files := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		files = append(files, FileEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return ok(files)
}

// WriteFile writes a file inside the workspace, creating parent directories.
func (r *Registry) WriteFile(ctx context.Context, path, content string) Result {
	resolved, err := resolveSafely(r.workspaceRoot, path)
	if err != nil {
		return fail("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fail("failed to create directories for %s: %v", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fail("failed to write %s: %v", path, err)
	}
	return ok(map[string]any{"path": path, "bytes": len(content)})
}
