// Package tasks loads the task catalogue that seeds an operator session.
//
// A catalogue file is a JSON (or JSON5) object keyed by task name. Each task
// is an object of prompt fields:
//
//	{
//	  "Open the calculator": {
//	    "system_prompt": "You are operating a Linux desktop.",
//	    "computer_use_prompt": "Open the calculator and compute 6*7.",
//	    "prompt": "Compute 6*7."
//	  }
//	}
//
// Tasks are addressable by name or by their 1-based position in the file.
package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// Well-known prompt fields.
const (
	PromptSystem      = "system_prompt"
	PromptComputerUse = "computer_use_prompt"
	PromptDefault     = "prompt"
)

// FallbackPrompt is used when a task has neither the requested prompt nor a
// default prompt.
const FallbackPrompt = "Help me use the computer."

var (
	// ErrTaskNotFound is returned when no task matches a name or id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrEmptyCatalog is returned when selecting from a catalogue without tasks.
	ErrEmptyCatalog = errors.New("task catalogue is empty")
)

// Task is one entry of the catalogue.
type Task struct {
	// ID is the 1-based position of the task in the file.
	ID   int
	Name string
	// Prompts holds the string-valued fields of the task object.
	Prompts map[string]string
}

// Prompt returns the prompt of the given type, falling back to the default
// prompt and then to FallbackPrompt.
func (t *Task) Prompt(promptType string) string {
	if t == nil {
		return FallbackPrompt
	}
	if promptType != "" {
		if p, ok := t.Prompts[promptType]; ok && p != "" {
			return p
		}
	}
	if p, ok := t.Prompts[PromptDefault]; ok && p != "" {
		return p
	}
	return FallbackPrompt
}

// SystemPrompt returns the task's system prompt, or "" when it has none.
func (t *Task) SystemPrompt() string {
	if t == nil {
		return ""
	}
	return t.Prompts[PromptSystem]
}

// Catalog is an ordered, read-only set of tasks.
type Catalog struct {
	tasks  []*Task
	byName map[string]*Task
}

// Load reads a catalogue file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse task file %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes catalogue bytes. Strict JSON keeps file order; input that
// only JSON5 accepts is ordered by task name.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Catalog{byName: map[string]*Task{}}, nil
	}
	names, raw, err := decodeOrdered(data)
	if err != nil {
		var obj map[string]any
		if err5 := json5.Unmarshal(data, &obj); err5 != nil {
			return nil, err5
		}
		names = make([]string, 0, len(obj))
		for name := range obj {
			names = append(names, name)
		}
		sort.Strings(names)
		raw = obj
	}
	return build(names, raw)
}

// decodeOrdered walks the top-level object with the streaming decoder to
// recover key order.
func decodeOrdered(data []byte) ([]string, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, errors.New("task file must contain a JSON object")
	}

	var names []string
	raw := map[string]any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		if _, seen := raw[name]; !seen {
			names = append(names, name)
		}
		raw[name] = value
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, errors.New("unexpected data after task object")
	}
	return names, raw, nil
}

func build(names []string, raw map[string]any) (*Catalog, error) {
	cat := &Catalog{byName: make(map[string]*Task, len(names))}
	for _, name := range names {
		fields, ok := raw[name].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("task %q: expected an object of prompts", name)
		}
		task := &Task{ID: len(cat.tasks) + 1, Name: name, Prompts: map[string]string{}}
		for key, value := range fields {
			if s, ok := value.(string); ok {
				task.Prompts[key] = s
			}
		}
		cat.tasks = append(cat.tasks, task)
		cat.byName[name] = task
	}
	return cat, nil
}

// Len returns the number of tasks.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tasks)
}

// Tasks returns the tasks in file order.
func (c *Catalog) Tasks() []*Task {
	if c == nil {
		return nil
	}
	out := make([]*Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// ByName looks a task up by exact name.
func (c *Catalog) ByName(name string) (*Task, error) {
	if c != nil {
		if task, ok := c.byName[name]; ok {
			return task, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, name)
}

// ByID looks a task up by its 1-based id.
func (c *Catalog) ByID(id int) (*Task, error) {
	if id < 1 || id > c.Len() {
		return nil, fmt.Errorf("%w: id %d (have %d tasks)", ErrTaskNotFound, id, c.Len())
	}
	return c.tasks[id-1], nil
}

// Select resolves a name (preferred) or a 1-based id. An unknown name reuses
// the first task's prompts under the given name; with no tasks at all it
// yields a prompt-less task.
func (c *Catalog) Select(name string, id int) (*Task, error) {
	if c.Len() == 0 {
		if name = strings.TrimSpace(name); name != "" {
			return &Task{Name: name, Prompts: map[string]string{}}, nil
		}
		return nil, ErrEmptyCatalog
	}
	if name != "" {
		if task, err := c.ByName(name); err == nil {
			return task, nil
		}
		first := *c.tasks[0]
		first.Name = name
		return &first, nil
	}
	if id != 0 {
		return c.ByID(id)
	}
	return nil, errors.New("a task name or id is required")
}
