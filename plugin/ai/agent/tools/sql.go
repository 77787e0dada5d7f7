package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

// Wire names of the SQL tools.
const (
	ListTablesToolName   = "sql_db_list_tables"
	SchemaToolName       = "sql_db_schema"
	QueryCheckerToolName = "sql_db_query_checker"
	QueryToolName        = "sql_db_query"
)

// ListTablesInput takes no arguments.
type ListTablesInput struct{}

// ListTablesTool lists the analytics tables.
type ListTablesTool struct {
	schema *SchemaCache
}

func NewListTablesTool(schema *SchemaCache) *ListTablesTool {
	return &ListTablesTool{schema: schema}
}

func (t *ListTablesTool) Name() string { return ListTablesToolName }

func (t *ListTablesTool) Description() string {
	return "Input is empty, output is a comma-separated list of tables in the database."
}

func (t *ListTablesTool) Parameters() string { return mustParameters(ListTablesInput{}) }

func (t *ListTablesTool) Run(ctx context.Context, _ string) (string, error) {
	desc, err := t.schema.Get(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(desc.TableNames(), ", "), nil
}

// SchemaInput names the tables to describe.
type SchemaInput struct {
	TableNames string `json:"table_names" required:"true" description:"Comma-separated list of tables, for example: product_catalog, campaign"`
}

// SchemaTool renders table definitions with sample rows.
type SchemaTool struct {
	schema *SchemaCache
}

func NewSchemaTool(schema *SchemaCache) *SchemaTool {
	return &SchemaTool{schema: schema}
}

func (t *SchemaTool) Name() string { return SchemaToolName }

func (t *SchemaTool) Description() string {
	return "Input is a comma-separated list of tables, output is the schema and sample rows for those tables. " +
		"Be sure that the tables actually exist by calling " + ListTablesToolName + " first."
}

func (t *SchemaTool) Parameters() string { return mustParameters(SchemaInput{}) }

func (t *SchemaTool) Run(ctx context.Context, input string) (string, error) {
	var in SchemaInput
	if err := decodeInput(input, &in, &in.TableNames); err != nil {
		return "", err
	}
	var names []string
	for _, name := range strings.Split(in.TableNames, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", errors.Wrap(ErrInvalidInput, "table_names is empty")
	}
	desc, err := t.schema.Get(ctx)
	if err != nil {
		return "", err
	}
	return desc.Render(names...)
}

// QueryInput carries one SQL statement.
type QueryInput struct {
	Query string `json:"query" required:"true" description:"A single read-only SQL SELECT statement"`
}

// QueryCheckerTool validates a statement without running it.
type QueryCheckerTool struct {
	checker *Checker
}

func NewQueryCheckerTool(checker *Checker) *QueryCheckerTool {
	return &QueryCheckerTool{checker: checker}
}

func (t *QueryCheckerTool) Name() string { return QueryCheckerToolName }

func (t *QueryCheckerTool) Description() string {
	return "Use this tool to double check if your query is correct before executing it. " +
		"Output is a JSON verdict with the corrected query, or the issues found and a suggestion. " +
		"Always use this tool before executing a query with " + QueryToolName + "."
}

func (t *QueryCheckerTool) Parameters() string { return mustParameters(QueryInput{}) }

func (t *QueryCheckerTool) Run(ctx context.Context, input string) (string, error) {
	var in QueryInput
	if err := decodeInput(input, &in, &in.Query); err != nil {
		return "", err
	}
	verdict, err := t.checker.Check(ctx, in.Query)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(verdict)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode verdict")
	}
	return string(raw), nil
}

// Guard vets a checked statement before it is executed.
type Guard func(query string) error

// QueryResult is an executed statement and its rows.
type QueryResult struct {
	Query  string
	Result *store.ResultSet
}

// String renders the rows as a JSON array for the model.
func (r *QueryResult) String() string {
	raw, err := json.Marshal(r.Result.Rows)
	if err != nil {
		return fmt.Sprintf("failed to encode result: %v", err)
	}
	out := string(raw)
	if r.Result.Truncated {
		out += fmt.Sprintf("\n(result truncated to %d rows)", len(r.Result.Rows))
	}
	return out
}

// QueryTool checks and executes a read-only statement.
type QueryTool struct {
	store   *store.Store
	checker *Checker
}

func NewQueryTool(st *store.Store, checker *Checker) *QueryTool {
	return &QueryTool{store: st, checker: checker}
}

func (t *QueryTool) Name() string { return QueryToolName }

func (t *QueryTool) Description() string {
	return "Input is a detailed and correct SQL query, output is a result from the database. " +
		"If the query is not correct, an error message will be returned. " +
		"If an error is returned, rewrite the query, check the query, and try again. " +
		"If you encounter an unknown column, use " + SchemaToolName + " to look up the correct table fields."
}

func (t *QueryTool) Parameters() string { return mustParameters(QueryInput{}) }

func (t *QueryTool) Run(ctx context.Context, input string) (string, error) {
	query, err := ParseQueryInput(input)
	if err != nil {
		return "", err
	}
	res, err := t.Execute(ctx, query, nil)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// ParseQueryInput extracts the statement from query tool arguments.
func ParseQueryInput(input string) (string, error) {
	var in QueryInput
	if err := decodeInput(input, &in, &in.Query); err != nil {
		return "", err
	}
	return in.Query, nil
}

// Execute always re-checks the statement, applies guard, then runs it with the row cap.
func (t *QueryTool) Execute(ctx context.Context, query string, guard Guard) (*QueryResult, error) {
	verdict, err := t.checker.Check(ctx, query)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid {
		return nil, errors.Wrapf(ErrQueryInvalid, "%s. %s", strings.Join(verdict.Issues, "; "), verdict.Suggestion)
	}
	if guard != nil {
		if err := guard(verdict.Query); err != nil {
			return nil, err
		}
	}

	rs, err := t.store.QueryReadOnly(ctx, verdict.Query, t.checker.MaxRows())
	if err != nil {
		if store.IsStatementError(err) {
			return nil, errors.Wrap(ErrQueryInvalid, err.Error())
		}
		return nil, err
	}
	return &QueryResult{Query: verdict.Query, Result: rs}, nil
}
