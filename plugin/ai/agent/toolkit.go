package agent

import (
	"github.com/hrygo/brandpulse/plugin/ai"
	"github.com/hrygo/brandpulse/plugin/ai/agent/tools"
)

// ToolKind is the closed set of tools the agent can call.
// ToolKind 是代理可调用工具的封闭集合。
type ToolKind int

const (
	ToolListTables ToolKind = iota
	ToolSchema
	ToolQueryChecker
	ToolQuery
	ToolSearchProperNouns
)

type toolInfo struct {
	name        string
	startStatus string
	endStatus   string
}

var toolTable = [...]toolInfo{
	ToolListTables:        {tools.ListTablesToolName, "SQL Tools: Listing tables...", "SQL Tools: Tables listed"},
	ToolSchema:            {tools.SchemaToolName, "Schema Tools: Reading table schema...", "Schema Tools: Schema read"},
	ToolQueryChecker:      {tools.QueryCheckerToolName, "Query Checker Tools: Checking SQL Query...", "Query Checker Tools: Query Checked"},
	ToolQuery:             {tools.QueryToolName, "Query Executor Tools: Creating SQL Query...", "Query Executor Tools: Query Executed"},
	ToolSearchProperNouns: {tools.RetrievalToolName, "Vector DB Tools: Searching...", "Vector DB Tools: Vector DB Searched"},
}

var toolKinds = func() map[string]ToolKind {
	m := make(map[string]ToolKind, len(toolTable))
	for kind, info := range toolTable {
		m[info.name] = ToolKind(kind)
	}
	return m
}()

// ParseToolKind resolves a wire name to a ToolKind.
func ParseToolKind(name string) (ToolKind, bool) {
	kind, ok := toolKinds[name]
	return kind, ok
}

// String returns the wire name of the tool.
func (k ToolKind) String() string {
	if k < 0 || int(k) >= len(toolTable) {
		return "unknown"
	}
	return toolTable[k].name
}

func (k ToolKind) startStatus() string { return toolTable[k].startStatus }

func (k ToolKind) endStatus() string { return toolTable[k].endStatus }

// Toolkit holds the tool instances shared by all agents of a runtime.
// Toolkit 保存同一运行时内所有代理共享的工具实例。
type Toolkit struct {
	ListTables   *tools.ListTablesTool
	Schema       *tools.SchemaTool
	QueryChecker *tools.QueryCheckerTool
	Query        *tools.QueryTool
	Retrieval    *tools.RetrievalTool

	descriptors []ai.ToolDescriptor
}

// NewToolkit wires the tools and renders their descriptors once.
func NewToolkit(listTables *tools.ListTablesTool, schema *tools.SchemaTool, checker *tools.QueryCheckerTool, query *tools.QueryTool, retrieval *tools.RetrievalTool) *Toolkit {
	tk := &Toolkit{
		ListTables:   listTables,
		Schema:       schema,
		QueryChecker: checker,
		Query:        query,
		Retrieval:    retrieval,
	}
	for kind := range toolTable {
		tk.descriptors = append(tk.descriptors, tools.DescriptorOf(tk.Tool(ToolKind(kind))))
	}
	return tk
}

// Tool returns the tool for kind.
func (tk *Toolkit) Tool(kind ToolKind) tools.Tool {
	switch kind {
	case ToolListTables:
		return tk.ListTables
	case ToolSchema:
		return tk.Schema
	case ToolQueryChecker:
		return tk.QueryChecker
	case ToolQuery:
		return tk.Query
	case ToolSearchProperNouns:
		return tk.Retrieval
	default:
		return nil
	}
}

// Descriptors returns the tool definitions passed to the model.
func (tk *Toolkit) Descriptors() []ai.ToolDescriptor {
	return tk.descriptors
}
