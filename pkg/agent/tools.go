package agent

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	maxReadOutput    = 100 * 1024 // 100KB
	binaryCheckBytes = 512
	maxListEntries   = 200
	maxSearchMatches = 50
	maxSearchFile    = 1 << 20 // skip files larger than 1MB
)

// ReadOnlyTools returns the introspection toolset rooted at dir. Every path
// argument is resolved relative to dir and rejected when it escapes it.
func ReadOnlyTools(dir string) []Tool {
	root := &toolRoot{dir: dir}
	return []Tool{
		&readFileTool{root: root},
		&listDirTool{root: root},
		&searchTextTool{root: root},
	}
}

type toolRoot struct {
	dir string
}

func (tr *toolRoot) resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		rel = "."
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	rootAbs, err := filepath.Abs(tr.dir)
	if err != nil {
		return "", fmt.Errorf("resolving root %q: %w", tr.dir, err)
	}
	abs, err := filepath.Abs(filepath.Join(rootAbs, rel))
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", rel, err)
	}
	// Add separator boundary to prevent /tmpevil matching /tmp.
	if abs != rootAbs && !strings.HasPrefix(abs+string(filepath.Separator), rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the session directory", rel)
	}
	return abs, nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// isBinary checks for null bytes in the first binaryCheckBytes of data.
func isBinary(data []byte) bool {
	limit := len(data)
	if limit > binaryCheckBytes {
		limit = binaryCheckBytes
	}
	for _, b := range data[:limit] {
		if b == 0 {
			return true
		}
	}
	return false
}

// truncateOutput limits output to maxBytes, appending a truncation notice.
func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [output truncated]"
}

type readFileTool struct {
	root *toolRoot
}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Description() string {
	return "Read the contents of a file relative to the session directory."
}

func (t *readFileTool) Parameters() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"path"},
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path relative to the session directory"},
		},
	}
}

func (t *readFileTool) Call(_ context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	if path == "" {
		return "", fmt.Errorf("read_file: path is required")
	}
	abs, err := t.root.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading file %s: %w", path, err)
	}
	if isBinary(data) {
		return "", fmt.Errorf("binary file detected: %s", path)
	}
	return truncateOutput(string(data), maxReadOutput), nil
}

type listDirTool struct {
	root *toolRoot
}

func (t *listDirTool) Name() string { return "list_dir" }

func (t *listDirTool) Description() string {
	return "List directory entries relative to the session directory. Directories carry a trailing slash."
}

func (t *listDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path relative to the session directory (defaults to its root)"},
		},
	}
}

func (t *listDirTool) Call(_ context.Context, args map[string]any) (string, error) {
	abs, err := t.root.resolve(stringArg(args, "path"))
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", stringArg(args, "path"), err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > maxListEntries {
		names = append(names[:maxListEntries], fmt.Sprintf("... %d more entries", len(entries)-maxListEntries))
	}
	return strings.Join(names, "\n"), nil
}

type searchTextTool struct {
	root *toolRoot
}

func (t *searchTextTool) Name() string { return "search_text" }

func (t *searchTextTool) Description() string {
	return "Search files under the session directory for a regular expression. Returns path:line:text matches."
}

func (t *searchTextTool) Parameters() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"pattern"},
		"properties": map[string]any{
			"pattern":     map[string]any{"type": "string", "description": "Go regular expression"},
			"path":        map[string]any{"type": "string", "description": "Subdirectory to search (defaults to the session root)"},
			"max_matches": map[string]any{"type": "integer", "description": "Stop after this many matches (default 50)"},
		},
	}
}

func (t *searchTextTool) Call(ctx context.Context, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("search_text: pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("search_text: invalid pattern: %w", err)
	}

	base, err := t.root.resolve(stringArg(args, "path"))
	if err != nil {
		return "", err
	}
	limit := intArg(args, "max_matches", maxSearchMatches)
	if limit <= 0 || limit > maxSearchMatches {
		limit = maxSearchMatches
	}

	var matches []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != base && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if info, ierr := d.Info(); ierr != nil || info.Size() > maxSearchFile {
			return nil
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil || isBinary(data) {
			return nil
		}

		rel, rerr := filepath.Rel(base, path)
		if rerr != nil {
			rel = path
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= limit {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		// SkipDir/SkipAll never surface here; only cancellation does.
		return "", err
	}

	if len(matches) == 0 {
		return "no matches", nil
	}
	return strings.Join(matches, "\n"), nil
}
