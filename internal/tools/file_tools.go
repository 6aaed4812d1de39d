package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxReadBytes caps how much file content a single read returns.
const maxReadBytes = 50 * 1024

// RegisterFileTools adds the sandboxed filesystem tools.
func RegisterFileTools(r *Registry, sb *Sandbox) {
	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read the contents of a file in the workspace. Supports optional line offset and limit for large files.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file, relative to the workspace root.",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "1-indexed line to start reading from.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of lines to return.",
				},
			},
			"required": []string{"path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			offset := intArg(args, "offset")
			limit := intArg(args, "limit")
			return readFile(sb, path, offset, limit)
		},
	})

	r.Register(&Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file, relative to the workspace root.",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The full content to write.",
				},
			},
			"required": []string{"path", "content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if err := writeFile(sb, path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	})

	r.Register(&Tool{
		Name:        "edit_file",
		Description: "Replace a unique text snippet in a file. The old text must appear exactly once.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file, relative to the workspace root.",
				},
				"old_text": map[string]any{
					"type":        "string",
					"description": "The exact text to replace. Must be unique in the file.",
				},
				"new_text": map[string]any{
					"type":        "string",
					"description": "The replacement text.",
				},
			},
			"required": []string{"path", "old_text", "new_text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			oldText, _ := args["old_text"].(string)
			newText, _ := args["new_text"].(string)
			if err := editFile(sb, path, oldText, newText); err != nil {
				return "", err
			}
			return fmt.Sprintf("Edited %s", path), nil
		},
	})

	r.Register(&Tool{
		Name:        "list_dir",
		Description: "List the entries of a directory in the workspace.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory path, relative to the workspace root. Defaults to the root.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				path = "."
			}
			return listDir(sb, path)
		},
	})
}

func readFile(sb *Sandbox, path string, offset, limit int) (string, error) {
	absPath, err := sb.Resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("read file: %w", err)
	}

	content := string(data)

	if offset > 0 || limit > 0 {
		lines := strings.Split(content, "\n")

		startLine := 0
		if offset > 0 {
			startLine = offset - 1
		}
		if startLine >= len(lines) {
			return "", fmt.Errorf("offset %d exceeds file length (%d lines)", offset, len(lines))
		}

		endLine := len(lines)
		if limit > 0 && startLine+limit < endLine {
			endLine = startLine + limit
		}

		content = strings.Join(lines[startLine:endLine], "\n")
		if startLine > 0 || endLine < len(lines) {
			content = fmt.Sprintf("[Lines %d-%d of %d]\n%s", startLine+1, endLine, len(lines), content)
		}
	}

	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n\n[... truncated, use offset/limit for more ...]"
	}

	return content, nil
}

func writeFile(sb *Sandbox, path, content string) error {
	absPath, err := sb.Resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func editFile(sb *Sandbox, path, oldText, newText string) error {
	absPath, err := sb.Resolve(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", path)
		}
		return fmt.Errorf("read file: %w", err)
	}

	content := string(data)
	count := strings.Count(content, oldText)
	switch {
	case count == 0:
		if len(oldText) > 100 {
			return fmt.Errorf("old text not found in file (first 100 chars: %q...)", oldText[:100])
		}
		return fmt.Errorf("old text not found in file: %q", oldText)
	case count > 1:
		return fmt.Errorf("old text appears %d times in file; must be unique for safe editing", count)
	}

	newContent := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(absPath, []byte(newContent), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func listDir(sb *Sandbox, path string) (string, error) {
	absPath, err := sb.Resolve(path)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory not found: %s", path)
		}
		return "", fmt.Errorf("read directory: %w", err)
	}

	if len(entries) == 0 {
		return "(empty directory)", nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
			continue
		}
		size := int64(0)
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(&b, "%s (%d bytes)\n", entry.Name(), size)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// intArg reads an integer-valued argument, tolerating the float64 that
// JSON decoding produces.
func intArg(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
