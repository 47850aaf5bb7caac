package files

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/operator/internal/computer"
)

func TestResolverRejectsEscape(t *testing.T) {
	root := t.TempDir()
	resolver := Resolver{Root: root}
	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../b"} {
		if _, err := resolver.Resolve(path); !errors.Is(err, ErrOutsideWorkspace) {
			t.Errorf("Resolve(%q) error = %v, want ErrOutsideWorkspace", path, err)
		}
	}
	if _, err := resolver.Resolve(" "); err == nil {
		t.Error("expected empty path to be rejected")
	}
	got, err := resolver.Resolve("notes/today.txt")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if filepath.Base(got) != "today.txt" || !filepath.IsAbs(got) {
		t.Fatalf("Resolve() = %s", got)
	}
}

func TestResolverRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink: %v", err)
	}
	if _, err := (Resolver{Root: root}).Resolve("link/secret.txt"); !errors.Is(err, ErrOutsideWorkspace) {
		t.Fatalf("error = %v, want ErrOutsideWorkspace", err)
	}
}

func run(t *testing.T, editor *Editor, raw string) (string, error) {
	t.Helper()
	in, err := Decode(json.RawMessage(raw))
	if err != nil {
		return "", err
	}
	result, err := editor.Execute(context.Background(), in)
	return result.Output, err
}

func mustRun(t *testing.T, editor *Editor, raw string) string {
	t.Helper()
	out, err := run(t, editor, raw)
	if err != nil {
		t.Fatalf("%s: %v", raw, err)
	}
	return out
}

func TestEditorLifecycle(t *testing.T) {
	root := t.TempDir()
	editor := NewEditor(root, nil)
	path := filepath.Join(root, "notes.txt")

	out := mustRun(t, editor, `{"command":"create","path":"notes.txt","file_text":"alpha\nbeta\ngamma\n"}`)
	if !strings.Contains(out, "File created successfully") {
		t.Fatalf("create output = %q", out)
	}

	out = mustRun(t, editor, `{"command":"view","path":"notes.txt"}`)
	if !strings.Contains(out, "     2\tbeta") {
		t.Fatalf("view output = %q", out)
	}

	out = mustRun(t, editor, `{"command":"str_replace","path":"notes.txt","old_str":"beta","new_str":"BETA"}`)
	if !strings.Contains(out, "has been edited") || !strings.Contains(out, "     2\tBETA") {
		t.Fatalf("str_replace output = %q", out)
	}

	mustRun(t, editor, `{"command":"insert","path":"notes.txt","insert_line":1,"new_str":"inserted"}`)
	data, _ := os.ReadFile(path)
	if string(data) != "alpha\ninserted\nBETA\ngamma\n" {
		t.Fatalf("after insert = %q", data)
	}

	mustRun(t, editor, `{"command":"undo_edit","path":"notes.txt"}`)
	data, _ = os.ReadFile(path)
	if string(data) != "alpha\nBETA\ngamma\n" {
		t.Fatalf("after first undo = %q", data)
	}
	mustRun(t, editor, `{"command":"undo_edit","path":"notes.txt"}`)
	data, _ = os.ReadFile(path)
	if string(data) != "alpha\nbeta\ngamma\n" {
		t.Fatalf("after second undo = %q", data)
	}
	mustRun(t, editor, `{"command":"undo_edit","path":"notes.txt"}`)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("undoing create should remove the file: %v", err)
	}
	if _, err := run(t, editor, `{"command":"undo_edit","path":"notes.txt"}`); err == nil || !strings.Contains(err.Error(), "No edit history") {
		t.Fatalf("error = %v", err)
	}
}

func TestEditorErrors(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "dup.txt"), []byte("x\nx\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	editor := NewEditor(root, nil)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "unknown command", input: `{"command":"delete","path":"dup.txt"}`, want: "Unrecognized command delete"},
		{name: "missing path", input: `{"command":"view"}`, want: "path is required"},
		{name: "escape", input: `{"command":"view","path":"../x"}`, want: "escapes workspace"},
		{name: "missing file", input: `{"command":"view","path":"nope.txt"}`, want: "does not exist"},
		{name: "create existing", input: `{"command":"create","path":"dup.txt","file_text":""}`, want: "already exists"},
		{name: "create without text", input: `{"command":"create","path":"new.txt"}`, want: "file_text"},
		{name: "not unique", input: `{"command":"str_replace","path":"dup.txt","old_str":"x","new_str":"y"}`, want: "Multiple occurrences of old_str `x` in lines [1 2]"},
		{name: "not found", input: `{"command":"str_replace","path":"dup.txt","old_str":"z"}`, want: "did not appear verbatim"},
		{name: "insert out of range", input: `{"command":"insert","path":"dup.txt","insert_line":9,"new_str":"y"}`, want: "[0, 2]"},
		{name: "bad view range", input: `{"command":"view","path":"dup.txt","view_range":[3,4]}`, want: "Invalid `view_range`"},
		{name: "directory edit", input: `{"command":"str_replace","path":".","old_str":"x"}`, want: "is a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, editor, tt.input)
			var toolErr *computer.ToolError
			if !errors.As(err, &toolErr) {
				t.Fatalf("error = %v (%T), want *ToolError", err, err)
			}
			if !strings.Contains(toolErr.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", toolErr.Error(), tt.want)
			}
		})
	}
}

func TestEditorViewRangeAndDirectory(t *testing.T) {
	root := t.TempDir()
	mustWrite := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("lines.txt", "1\n2\n3\n4\n5\n")
	mustWrite("dir/sub/deep.txt", "x")
	mustWrite(".hidden/secret.txt", "x")
	editor := NewEditor(root, nil)

	out := mustRun(t, editor, `{"command":"view","path":"lines.txt","view_range":[2,-1]}`)
	if strings.Contains(out, "     1\t1") || !strings.Contains(out, "     5\t5") {
		t.Fatalf("ranged view = %q", out)
	}

	out = mustRun(t, editor, `{"command":"view","path":"."}`)
	if !strings.Contains(out, filepath.Join("dir", "sub")) {
		t.Fatalf("listing missing second level: %q", out)
	}
	if strings.Contains(out, "deep.txt") || strings.Contains(out, ".hidden") {
		t.Fatalf("listing too deep or shows hidden items: %q", out)
	}
}

func TestClip(t *testing.T) {
	if got := clip("short"); got != "short" {
		t.Fatalf("clip = %q", got)
	}
	long := strings.Repeat("a", 20000)
	if got := clip(long); !strings.HasSuffix(got, "</NOTE>") || len(got) >= len(long)+200 {
		t.Fatalf("clip did not truncate")
	}
}
