package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashline-dev/agent/pkg/ai"
	"github.com/hashline-dev/agent/pkg/tools"
)

// TodoStore holds the session's todo list. It is passed to the tool at
// construction — no process-global state — so each agent (and each subagent)
// gets its own list.
type TodoStore struct {
	mu    sync.Mutex
	next  int
	items []TodoItem
}

// TodoItem is one entry in the list.
type TodoItem struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

func NewTodoStore() *TodoStore { return &TodoStore{next: 1} }

// Add appends a new open item and returns it.
func (s *TodoStore) Add(text string) TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := TodoItem{ID: s.next, Text: text}
	s.next++
	s.items = append(s.items, item)
	return item
}

// Complete marks an item done. Returns false when the ID does not exist.
func (s *TodoStore) Complete(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Done = true
			return true
		}
	}
	return false
}

// Items returns a snapshot of the list.
func (s *TodoStore) Items() []TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TodoItem(nil), s.items...)
}

// TodoTool lets the model keep a working list of steps for multi-part tasks.
type TodoTool struct {
	store *TodoStore
}

func NewTodoTool(store *TodoStore) *TodoTool {
	if store == nil {
		store = NewTodoStore()
	}
	return &TodoTool{store: store}
}

func (t *TodoTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name: "todo",
		Description: "Manage the session todo list. Use action=add with text to record a step, " +
			"action=complete with id when a step is finished, and action=list to review progress.",
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"action": {Type: "string", Description: "One of: add, complete, list", Enum: []any{"add", "complete", "list"}},
				"text":   {Type: "string", Description: "Todo text (for add)"},
				"id":     {Type: "integer", Description: "Todo ID (for complete)"},
			},
			Required: []string{"action"},
		}),
	}
}

func (t *TodoTool) Execute(_ context.Context, _ string, params map[string]any, _ tools.UpdateFn) (tools.Result, error) {
	action, _ := params["action"].(string)
	switch action {
	case "add":
		text, _ := params["text"].(string)
		if strings.TrimSpace(text) == "" {
			return tools.ErrorResult(fmt.Errorf("text is required for add")), nil
		}
		item := t.store.Add(text)
		return tools.TextResult(fmt.Sprintf("Added todo #%d: %s", item.ID, item.Text)), nil

	case "complete":
		id := intParam(params, "id", 0)
		if id == 0 {
			return tools.ErrorResult(fmt.Errorf("id is required for complete")), nil
		}
		if !t.store.Complete(id) {
			return tools.ErrorResult(fmt.Errorf("no todo with id %d", id)), nil
		}
		return tools.TextResult(fmt.Sprintf("Completed todo #%d", id)), nil

	case "list":
		items := t.store.Items()
		if len(items) == 0 {
			return tools.TextResult("(todo list is empty)"), nil
		}
		var b strings.Builder
		for _, item := range items {
			mark := " "
			if item.Done {
				mark = "x"
			}
			fmt.Fprintf(&b, "[%s] #%d %s\n", mark, item.ID, item.Text)
		}
		return tools.TextResult(strings.TrimRight(b.String(), "\n")), nil

	default:
		return tools.ErrorResult(fmt.Errorf("unknown action %q", action)), nil
	}
}
