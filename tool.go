package netagent

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// TaskKindBatch tags registry tasks that wrap a batch command run.
const TaskKindBatch = "batch_command"

// ParseToolInput parses the single-string command form used by AI and
// automation callers:
//
//	"addr1,addr2: command"  targeted batch
//	"command"               all devices
//
// The address list is comma separated, the separator is the first colon,
// and every piece is whitespace-trimmed. A colon prefix containing spaces
// is treated as part of a bare command rather than a target list.
func ParseToolInput(input string) (targets []string, command string, err error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, "", errors.New("tool input is empty")
	}
	idx := strings.Index(trimmed, ":")
	if idx < 0 {
		return nil, trimmed, nil
	}
	prefix := strings.TrimSpace(trimmed[:idx])
	if prefix == "" || strings.ContainsAny(prefix, " \t") {
		return nil, trimmed, nil
	}
	command = strings.TrimSpace(trimmed[idx+1:])
	if command == "" {
		return nil, "", errors.New("tool input has a target list but no command")
	}
	for _, part := range strings.Split(prefix, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			targets = append(targets, addr)
		}
	}
	if len(targets) == 0 {
		return nil, "", errors.New("tool input has an empty target list")
	}
	return targets, command, nil
}

// BatchTool exposes the orchestrator through the single-string tool
// contract, optionally wrapping runs as registry tasks.
type BatchTool struct {
	orch     *Orchestrator
	registry *TaskRegistry
}

// NewBatchTool builds a tool over orch. registry may be nil when only
// synchronous execution is needed.
func NewBatchTool(orch *Orchestrator, registry *TaskRegistry) *BatchTool {
	return &BatchTool{orch: orch, registry: registry}
}

// Execute parses input and runs the batch synchronously.
func (t *BatchTool) Execute(ctx context.Context, input string) (*BatchResult, error) {
	targets, command, err := ParseToolInput(input)
	if err != nil {
		return nil, err
	}
	return t.orch.RunBatch(ctx, command, targets), nil
}

// Dispatch parses input and wraps the batch as an asynchronously pollable
// registry task, returning the task id immediately.
func (t *BatchTool) Dispatch(input string) (string, error) {
	if t.registry == nil {
		return "", errors.New("batch tool has no task registry")
	}
	targets, command, err := ParseToolInput(input)
	if err != nil {
		return "", err
	}
	id := t.registry.Submit(TaskKindBatch, input, func(ctx context.Context, report ProgressFunc) (any, error) {
		return t.orch.RunBatchWithProgress(ctx, command, targets, report), nil
	})
	return id, nil
}
