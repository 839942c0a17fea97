package vcdiagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Tool names the model calls.
const (
	ToolDisplayDiagram = "display_diagram"
	ToolEditDiagram    = "edit_diagram"
)

// ToolState is the lifecycle stage of a tool call as the chat transport
// reports it. The same call is usually seen several times.
type ToolState string

const (
	StateInputStreaming  ToolState = "input-streaming"
	StateInputAvailable  ToolState = "input-available"
	StateOutputAvailable ToolState = "output-available"
)

// ToolCall is one observation of a model tool call.
type ToolCall struct {
	ID    string          `json:"toolCallId"`
	Name  string          `json:"toolName"`
	State ToolState       `json:"state"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the text handed back to the model for a tool call.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Tool       string `json:"tool"`
	Output     string `json:"output"`
	IsError    bool   `json:"isError,omitempty"`
}

type displayInput struct {
	XML string `json:"xml"`
}

type editInput struct {
	Edits []EditOperation `json:"edits"`
}

// Dispatcher routes tool calls and assistant text to a Session. Each tool
// call id and each assistant message is acted on once; streaming
// observations before that are previews.
type Dispatcher struct {
	session *Session
	logger  *slog.Logger

	mu        sync.Mutex
	processed map[string]bool
}

func NewDispatcher(session *Session, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		session:   session,
		logger:    logger.With(slog.String("component", "dispatcher")),
		processed: make(map[string]bool),
	}
}

// HandleToolCall acts on one observation of a tool call. The result is nil
// when the observation needs no answer: streaming frames, calls already
// handled and unknown tools.
func (d *Dispatcher) HandleToolCall(ctx context.Context, call ToolCall) (*ToolResult, error) {
	switch call.Name {
	case ToolDisplayDiagram:
		return d.handleDisplay(call)
	case ToolEditDiagram:
		return d.handleEdit(ctx, call)
	default:
		d.logger.Debug("ignoring tool call", slog.String("tool", call.Name), slog.String("id", call.ID))
		return nil, nil
	}
}

func (d *Dispatcher) handleDisplay(call ToolCall) (*ToolResult, error) {
	var in displayInput
	if err := json.Unmarshal(call.Input, &in); err != nil || in.XML == "" {
		if call.State == StateInputStreaming {
			return nil, nil
		}
		if err == nil {
			err = errors.New("missing xml")
		}
		return &ToolResult{
			ToolCallID: call.ID,
			Tool:       ToolDisplayDiagram,
			Output:     fmt.Sprintf("Display failed: invalid input: %v", err),
			IsError:    true,
		}, nil
	}

	switch call.State {
	case StateInputStreaming:
		if d.isProcessed(call.ID) {
			return nil, nil
		}
		_, err := d.session.Display(in.XML, false)
		if err != nil && !errors.Is(err, ErrMalformedDocument) {
			return nil, err
		}
		return nil, nil
	case StateInputAvailable, StateOutputAvailable:
		if !d.markProcessed(call.ID) {
			return nil, nil
		}
		_, err := d.session.Display(in.XML, true)
		if errors.Is(err, ErrMalformedDocument) {
			d.logger.Warn("diagram not displayed", slog.String("id", call.ID), slog.Any("error", err))
			if call.State == StateOutputAvailable {
				return nil, nil
			}
			return &ToolResult{
				ToolCallID: call.ID,
				Tool:       ToolDisplayDiagram,
				Output:     fmt.Sprintf("Display failed: %v. Nothing was displayed; send a complete mxfile document.", err),
				IsError:    true,
			}, nil
		}
		if err != nil {
			return nil, err
		}
		if call.State == StateOutputAvailable {
			return nil, nil
		}
		return &ToolResult{ToolCallID: call.ID, Tool: ToolDisplayDiagram, Output: "Successfully displayed the diagram."}, nil
	}
	return nil, nil
}

func (d *Dispatcher) handleEdit(ctx context.Context, call ToolCall) (*ToolResult, error) {
	if call.State != StateInputAvailable || !d.markProcessed(call.ID) {
		return nil, nil
	}
	var in editInput
	if err := json.Unmarshal(call.Input, &in); err != nil {
		return editFailed(call.ID, fmt.Errorf("invalid input: %w", err), d.session.CurrentXML()), nil
	}

	res, err := d.session.Edit(ctx, in.Edits)
	if err != nil {
		d.logger.Warn("edit failed", slog.String("id", call.ID), slog.Any("error", err))
		current := res.Current
		if current == "" {
			current = d.session.Current().Format()
		}
		return editFailed(call.ID, err, current), nil
	}
	return &ToolResult{
		ToolCallID: call.ID,
		Tool:       ToolEditDiagram,
		Output:     fmt.Sprintf("Successfully applied %d edit(s) to the diagram.", res.Applied),
	}, nil
}

func editFailed(id string, err error, current string) *ToolResult {
	var b strings.Builder
	fmt.Fprintf(&b, "Edit failed: %v\n\n", err)
	b.WriteString("Current diagram XML:\n```xml\n")
	b.WriteString(current)
	b.WriteString("\n```\n\n")
	b.WriteString("Please retry with an adjusted search pattern or use display_diagram if retries are exhausted.")
	return &ToolResult{ToolCallID: id, Tool: ToolEditDiagram, Output: b.String(), IsError: true}
}

// HandleAssistantText is the fallback for models without tool support: the
// first diagram block in an assistant message is displayed. While final is
// false the block is shown as a preview; the final text is acted on once per
// message.
func (d *Dispatcher) HandleAssistantText(messageID, text string, final bool) (bool, error) {
	key := "text-xml-" + messageID
	if d.isProcessed(key) {
		return false, nil
	}
	block, ok := ExtractDiagramBlock(text)
	if !ok {
		return false, nil
	}
	if final && !d.markProcessed(key) {
		return false, nil
	}
	changed, err := d.session.Display(strings.TrimSpace(block), final)
	if errors.Is(err, ErrMalformedDocument) {
		return false, nil
	}
	return changed, err
}

// Reset forgets which calls and messages were handled, as when the
// conversation is cleared.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed = make(map[string]bool)
}

func (d *Dispatcher) isProcessed(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processed[key]
}

// markProcessed records key and reports whether it was new.
func (d *Dispatcher) markProcessed(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.processed[key] {
		return false
	}
	d.processed[key] = true
	return true
}
