// Package tools implements the SQL and proper-noun tools offered to the analytics agent.
// Package tools 实现分析代理可调用的 SQL 与专有名词工具。
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/plugin/ai"
)

// Tool is the interface for agent tools.
// Tool 是代理工具的接口。
type Tool interface {
	// Name returns the wire name of the tool.
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns the JSON schema of the tool input.
	Parameters() string

	// Run executes the tool with raw JSON arguments.
	// Run 使用给定的输入执行工具。
	Run(ctx context.Context, input string) (string, error)
}

// DescriptorOf converts a tool to the form passed to the LLM.
func DescriptorOf(t Tool) ai.ToolDescriptor {
	return ai.ToolDescriptor{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// mustParameters reflects the schema of an input struct. Input structs are
// static, so a reflection failure is a programming error.
func mustParameters(v any) string {
	params, err := ai.ToolParameters(v)
	if err != nil {
		panic(err)
	}
	return params
}

// decodeInput parses tool arguments into dst. Some models send the bare value
// instead of a JSON object; rawField receives it in that case.
func decodeInput(input string, dst any, rawField *string) error {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		if rawField == nil {
			return errors.Wrap(ErrInvalidInput, "expected a JSON object")
		}
		*rawField = trimmed
		return nil
	}
	if err := json.Unmarshal([]byte(trimmed), dst); err != nil {
		return errors.Wrapf(ErrInvalidInput, "invalid JSON input: %v", err)
	}
	return nil
}
