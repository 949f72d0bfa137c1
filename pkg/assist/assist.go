// Package assist runs a chat-completion loop that lets a language model
// query the device fleet through the batch command tool. The model only
// ever reaches devices through the orchestrator, so the read-only command
// policy and scope restrictions apply to it like any other caller.
package assist

import (
	"context"
	"encoding/json"
	"strings"

	netagent "github.com/fleetops/netagent"
	"github.com/fleetops/netagent/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// EnvAPIKey and EnvModel configure the OpenAI client.
	EnvAPIKey = "OPENAI_API_KEY"
	EnvModel  = "OPENAI_MODEL"

	defaultModel = "gpt-4o-mini"
	maxToolTurns = 8

	batchToolName = "run_batch_command"

	systemPrompt = "You are a network operations assistant. You can query " +
		"a fleet of read-only network devices with the run_batch_command tool. " +
		"The tool input is either a bare command (all devices) or " +
		"\"addr1,addr2: command\" for specific devices. Only read-only query " +
		"commands are permitted. Summarize per-device results for the user."
)

// chatClient is the slice of the OpenAI client the assistant needs; tests
// substitute a stub.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Assistant drives the tool loop over a BatchTool.
type Assistant struct {
	client chatClient
	model  string
	tool   *netagent.BatchTool
}

// NewFromEnv builds an assistant from $OPENAI_API_KEY and $OPENAI_MODEL.
func NewFromEnv(tool *netagent.BatchTool) (*Assistant, error) {
	apiKey := config.String(EnvAPIKey, "")
	if apiKey == "" {
		return nil, errors.Errorf("%s is not set", EnvAPIKey)
	}
	model := config.String(EnvModel, defaultModel)
	return &Assistant{
		client: openai.NewClient(apiKey),
		model:  model,
		tool:   tool,
	}, nil
}

func batchToolDefinition() openai.Tool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{
				"type": "string",
				"description": "Either a bare read-only command applied to all devices, " +
					"or \"addr1,addr2: command\" to target specific device addresses.",
			},
		},
		"required": []string{"input"},
	}
	raw, _ := json.Marshal(params)
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        batchToolName,
			Description: "Run one read-only command against the device fleet and return per-device results.",
			Parameters:  json.RawMessage(raw),
		},
	}
}

// Ask sends prompt to the model and executes any requested batch commands,
// returning the model's final answer.
func (a *Assistant) Ask(ctx context.Context, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	tools := []openai.Tool{batchToolDefinition()}

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return "", errors.Wrap(err, "chat completion failed")
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("chat completion returned no choices")
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return strings.TrimSpace(msg.Content), nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			output := a.executeToolCall(ctx, call)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    output,
			})
		}
	}
	return "", errors.Errorf("assistant exceeded %d tool turns without a final answer", maxToolTurns)
}

func (a *Assistant) executeToolCall(ctx context.Context, call openai.ToolCall) string {
	if call.Function.Name != batchToolName {
		return "error: unknown tool " + call.Function.Name
	}
	var args struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return "error: invalid tool arguments: " + err.Error()
	}
	log.Info().Str("input", args.Input).Msg("assistant invoking batch command tool")
	result, err := a.tool.Execute(ctx, args.Input)
	if err != nil {
		return "error: " + err.Error()
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return "error: marshal batch result: " + err.Error()
	}
	return string(payload)
}
