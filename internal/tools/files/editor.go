// Package files implements the str_replace_editor tool confined to a
// workspace root.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/operator/internal/computer"
	"github.com/haasonsaas/operator/internal/tools/shell"
	"github.com/haasonsaas/operator/pkg/models"
)

const (
	// Name is the tool name the model calls.
	Name = "str_replace_editor"
	// Type is the Anthropic tool version.
	Type = "text_editor_20250124"

	snippetLines = 4
)

// Command is an editor sub-command.
type Command string

const (
	CommandView       Command = "view"
	CommandCreate     Command = "create"
	CommandStrReplace Command = "str_replace"
	CommandInsert     Command = "insert"
	CommandUndoEdit   Command = "undo_edit"
)

// Input is the decoded editor input.
type Input struct {
	Command    Command `json:"command"`
	Path       string  `json:"path"`
	FileText   *string `json:"file_text,omitempty"`
	OldStr     *string `json:"old_str,omitempty"`
	NewStr     *string `json:"new_str,omitempty"`
	InsertLine *int    `json:"insert_line,omitempty"`
	ViewRange  []int   `json:"view_range,omitempty"`
}

// Decode parses raw tool input.
func Decode(raw json.RawMessage) (Input, error) {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, computer.NewToolError("invalid input: %v", err)
	}
	switch in.Command {
	case CommandView, CommandCreate, CommandStrReplace, CommandInsert, CommandUndoEdit:
	case "":
		return in, computer.NewToolError("command is required")
	default:
		return in, computer.NewToolError("Unrecognized command %s. The allowed commands for the %s tool are: view, create, str_replace, insert, undo_edit", in.Command, Name)
	}
	if strings.TrimSpace(in.Path) == "" {
		return in, computer.NewToolError("path is required")
	}
	return in, nil
}

// Editor views and edits files under a workspace root, keeping per-file
// undo history for the life of the session.
type Editor struct {
	resolver Resolver
	logger   *slog.Logger

	mu sync.Mutex
	// history holds prior contents per path; nil means the file did not exist.
	history map[string][]*string
}

// NewEditor creates an editor scoped to root.
func NewEditor(root string, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Editor{
		resolver: Resolver{Root: root},
		logger:   logger,
		history:  map[string][]*string{},
	}
}

func (e *Editor) Name() string { return Name }

func (e *Editor) Description() string {
	return "View, create and edit files in the workspace: view, create, str_replace, insert, undo_edit."
}

// Schema is the function-calling parameter schema for providers without a
// native editor tool.
func (e *Editor) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type": "string",
				"enum": []string{"view", "create", "str_replace", "insert", "undo_edit"},
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File or directory path inside the workspace.",
			},
			"file_text": map[string]interface{}{
				"type":        "string",
				"description": "Content for create.",
			},
			"old_str": map[string]interface{}{
				"type":        "string",
				"description": "Text to replace; must occur exactly once.",
			},
			"new_str": map[string]interface{}{
				"type":        "string",
				"description": "Replacement for str_replace, or text for insert.",
			},
			"insert_line": map[string]interface{}{
				"type":        "integer",
				"description": "Line after which new_str is inserted (0 for the top).",
				"minimum":     0,
			},
			"view_range": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "integer"},
				"description": "Optional [start, end] line range for view; end -1 reads to the end.",
			},
		},
		"required": []string{"command", "path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute runs one command. Failures the model can act on are
// *computer.ToolError.
func (e *Editor) Execute(ctx context.Context, in Input) (models.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return models.ToolResult{}, err
	}
	path, err := e.resolver.Resolve(in.Path)
	if err != nil {
		return models.ToolResult{}, &computer.ToolError{Message: err.Error(), Cause: err}
	}
	e.logger.Debug("editor command", "command", string(in.Command), "path", path)

	var output string
	switch in.Command {
	case CommandView:
		output, err = e.view(path, in.ViewRange)
	case CommandCreate:
		output, err = e.create(path, in.FileText)
	case CommandStrReplace:
		output, err = e.strReplace(path, in.OldStr, in.NewStr)
	case CommandInsert:
		output, err = e.insert(path, in.InsertLine, in.NewStr)
	case CommandUndoEdit:
		output, err = e.undo(path)
	default:
		err = computer.NewToolError("Unrecognized command %s", in.Command)
	}
	if err != nil {
		return models.ToolResult{}, err
	}
	return models.ToolResult{Output: clip(output)}, nil
}

func (e *Editor) view(path string, viewRange []int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", computer.NewToolError("The path %s does not exist. Please provide a valid path.", path)
	}
	if info.IsDir() {
		if viewRange != nil {
			return "", computer.NewToolError("The `view_range` parameter is not allowed when `path` points to a directory.")
		}
		return listDir(path)
	}

	content, err := readText(path)
	if err != nil {
		return "", err
	}
	lines := splitLines(content)
	start := 1
	if viewRange != nil {
		if len(viewRange) != 2 {
			return "", computer.NewToolError("Invalid `view_range`. It should be a list of two integers.")
		}
		first, last := viewRange[0], viewRange[1]
		if first < 1 || first > len(lines) {
			return "", computer.NewToolError("Invalid `view_range`: %v. Its first element `%d` should be within the range of lines of the file: [1, %d]", viewRange, first, len(lines))
		}
		if last != -1 && (last < first || last > len(lines)) {
			return "", computer.NewToolError("Invalid `view_range`: %v. Its second element `%d` should be -1 or between %d and %d", viewRange, last, first, len(lines))
		}
		if last == -1 {
			last = len(lines)
		}
		lines = lines[first-1 : last]
		start = first
	}
	return fmt.Sprintf("Here's the result of running `cat -n` on %s:\n%s\n", path, numbered(lines, start)), nil
}

func (e *Editor) create(path string, fileText *string) (string, error) {
	if fileText == nil {
		return "", computer.NewToolError("Parameter `file_text` is required for command: create")
	}
	if _, err := os.Stat(path); err == nil {
		return "", computer.NewToolError("File already exists at: %s. Cannot overwrite files using command `create`.", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", computer.NewToolError("create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(*fileText), 0o644); err != nil {
		return "", computer.NewToolError("write file: %v", err)
	}
	e.push(path, nil)
	return fmt.Sprintf("File created successfully at: %s", path), nil
}

func (e *Editor) strReplace(path string, oldStr, newStr *string) (string, error) {
	if oldStr == nil {
		return "", computer.NewToolError("Parameter `old_str` is required for command: str_replace")
	}
	content, err := readText(path)
	if err != nil {
		return "", err
	}
	replacement := ""
	if newStr != nil {
		replacement = *newStr
	}
	old := *oldStr

	switch count := strings.Count(content, old); {
	case old == "" || count == 0:
		return "", computer.NewToolError("No replacement was performed, old_str `%s` did not appear verbatim in %s.", *oldStr, path)
	case count > 1:
		return "", computer.NewToolError("No replacement was performed. Multiple occurrences of old_str `%s` in lines %v. Please ensure it is unique", *oldStr, occurrenceLines(content, old))
	}

	updated := strings.Replace(content, old, replacement, 1)
	if err := e.write(path, updated); err != nil {
		return "", err
	}

	at := strings.Count(content[:strings.Index(content, old)], "\n")
	snippet := snippet(updated, at, strings.Count(replacement, "\n"))
	return fmt.Sprintf("The file %s has been edited. %s\nReview the changes and make sure they are as expected. Edit the file again if necessary.", path, snippet), nil
}

func (e *Editor) insert(path string, insertLine *int, newStr *string) (string, error) {
	if insertLine == nil {
		return "", computer.NewToolError("Parameter `insert_line` is required for command: insert")
	}
	if newStr == nil {
		return "", computer.NewToolError("Parameter `new_str` is required for command: insert")
	}
	content, err := readText(path)
	if err != nil {
		return "", err
	}
	text := *newStr

	lines := splitLines(content)
	line := *insertLine
	if line < 0 || line > len(lines) {
		return "", computer.NewToolError("Invalid `insert_line` parameter: %d. It should be within the range of lines of the file: [0, %d]", line, len(lines))
	}
	merged := make([]string, 0, len(lines)+1)
	merged = append(merged, lines[:line]...)
	merged = append(merged, splitLines(text)...)
	merged = append(merged, lines[line:]...)
	updated := strings.Join(merged, "\n")
	if strings.HasSuffix(content, "\n") || content == "" {
		updated += "\n"
	}
	if err := e.write(path, updated); err != nil {
		return "", err
	}
	snippet := snippet(updated, line, strings.Count(text, "\n"))
	return fmt.Sprintf("The file %s has been edited. %s\nReview the changes and make sure they are as expected (correct indentation, no duplicate lines, etc). Edit the file again if necessary.", path, snippet), nil
}

func (e *Editor) undo(path string) (string, error) {
	e.mu.Lock()
	stack := e.history[path]
	if len(stack) == 0 {
		e.mu.Unlock()
		return "", computer.NewToolError("No edit history found for %s.", path)
	}
	prev := stack[len(stack)-1]
	e.history[path] = stack[:len(stack)-1]
	e.mu.Unlock()

	if prev == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", computer.NewToolError("remove file: %v", err)
		}
		return fmt.Sprintf("Last edit to %s undone successfully. The file no longer exists.", path), nil
	}
	if err := os.WriteFile(path, []byte(*prev), 0o644); err != nil {
		return "", computer.NewToolError("write file: %v", err)
	}
	return fmt.Sprintf("Last edit to %s undone successfully. Here's the result of running `cat -n` on %s:\n%s\n",
		path, path, numbered(splitLines(*prev), 1)), nil
}

// write records the current content for undo and replaces the file.
func (e *Editor) write(path, updated string) error {
	current, err := os.ReadFile(path)
	if err != nil {
		return computer.NewToolError("read file: %v", err)
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return computer.NewToolError("write file: %v", err)
	}
	prev := string(current)
	e.push(path, &prev)
	return nil
}

func (e *Editor) push(path string, prev *string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[path] = append(e.history[path], prev)
}

func readText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", computer.NewToolError("The path %s does not exist. Please provide a valid path.", path)
	}
	if info.IsDir() {
		return "", computer.NewToolError("The path %s is a directory and only the `view` command can be used on directories", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", computer.NewToolError("read file: %v", err)
	}
	return string(data), nil
}

// listDir lists non-hidden entries up to two levels deep.
func listDir(root string) (string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			entries = append(entries, path)
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		depth := strings.Count(rel, string(os.PathSeparator)) + 1
		if depth > 2 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, path)
		return nil
	})
	if err != nil {
		return "", computer.NewToolError("list directory: %v", err)
	}
	sort.Strings(entries)
	return fmt.Sprintf("Here's the files and directories up to 2 levels deep in %s, excluding hidden items:\n%s\n",
		root, strings.Join(entries, "\n")), nil
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

func numbered(lines []string, start int) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%6d\t%s", start+i, line)
	}
	return b.String()
}

// snippet shows the edited region with a few lines of context. at is the
// zero-based first edited line and extra the number of added newlines.
func snippet(content string, at, extra int) string {
	lines := splitLines(content)
	first := max(at-snippetLines, 0)
	last := min(at+extra+snippetLines+1, len(lines))
	if first > last {
		first = last
	}
	return fmt.Sprintf("Here's the result of running `cat -n` on a snippet of the edited file:\n%s", numbered(lines[first:last], first+1))
}

func occurrenceLines(content, old string) []int {
	var lines []int
	offset := 0
	for {
		idx := strings.Index(content[offset:], old)
		if idx < 0 {
			return lines
		}
		lines = append(lines, strings.Count(content[:offset+idx], "\n")+1)
		offset += idx + len(old)
	}
}

func clip(s string) string {
	if len(s) <= shell.MaxOutput {
		return s
	}
	return strings.ToValidUTF8(s[:shell.MaxOutput], "") + shell.TruncatedMessage
}
