package agent

import (
	"fmt"
	"strings"

	"github.com/hrygo/brandpulse/plugin/ai/agent/tools"
)

// Fixed answers that end a turn without a model generated response.
const (
	// DeclinationMessage answers questions outside the analytics domain.
	DeclinationMessage = "I can only answer questions about the brand analytics data in this dashboard, " +
		"such as sales, campaigns, product reviews and social media sentiment. " +
		"Please ask a question related to that data."

	// UnableToAnswerMessage ends a turn whose queries kept failing.
	UnableToAnswerMessage = "I'm sorry, I was unable to answer that question from the available data. " +
		"Please try rephrasing it or narrowing it down to a specific brand, product or period."

	// StepLimitMessage ends a turn that used up its tool steps.
	StepLimitMessage = "I'm sorry, I could not finish answering within the allowed number of steps. " +
		"Please try a more specific question."

	// InternalErrorMessage is the user facing text of an infrastructure failure.
	InternalErrorMessage = "The analytics service is temporarily unavailable. Please try again later."
)

// systemPromptTemplate uses indexed verbs; see buildSystemPrompt for the argument order.
const systemPromptTemplate = `You are an analytics agent that answers questions by querying a %[1]s database of brand, product, campaign and social media data.

For every question, write a syntactically correct %[1]s query, run it, look at the results and answer from them.
Unless the user asks for a specific number of results, LIMIT every query to at most %[2]d rows.
Order results by a relevant column so the most interesting rows come first.
Never select every column of a table; select only the columns the question needs.
Always check a query with the query checker tool before executing it. If a query fails, rewrite it and try again.

Never write statements that change data (INSERT, UPDATE, DELETE, DROP and the like).

Always start by looking at the tables you can query. Only use these tables: %[3]s

Schema:
%[4]s

Only use column names that appear in the schema above, and keep track of which column belongs to which table.
Only produce insights that can be derived from the database. Politely decline questions that are not about this data.
Use only the information returned by your tools to build the final answer.

Query guidelines:
- For statistics, always use aggregate functions (AVG, SUM, MIN, MAX, COUNT).
- Always LIMIT queries to at most %[2]d rows.
- Only join the sentiment tables when the question asks about sentiment.

Answer guidelines:
- Report money in Rupiah.
- Keep a professional and helpful tone.
- Format the answer in a clear, structured way.
- Never give an explanation without supporting data from the database.

If you need to filter on a proper noun such as a brand, product name, category, platform or sentiment label, you MUST first look up the filter value with the '%[5]s' tool. Do not guess the spelling; use the closest value the tool returns.`

// buildSystemPrompt renders the system instruction for a schema.
// buildSystemPrompt 根据数据库结构生成系统指令。
func buildSystemPrompt(desc *tools.Descriptor, maxRows int) string {
	return fmt.Sprintf(systemPromptTemplate,
		desc.Dialect,
		maxRows,
		strings.Join(desc.TableNames(), ", "),
		desc.Text,
		tools.RetrievalToolName,
	)
}

// domainGuardSystemPrompt is a minimal prompt for domain classification.
const domainGuardSystemPrompt = `Domain classifier for a brand analytics assistant.
The assistant answers questions about: product sales and revenue, product catalog and categories, campaigns and budgets, customer demographics, product reviews, social media posts and trends, sentiment of reviews, campaigns and posts.

Decide whether the user question is about that data.
Follow-up questions that only make sense after the previous question count as in domain.
Greetings and general knowledge questions are out of domain.`

// buildDomainGuardInput renders the classifier user message.
func buildDomainGuardInput(question, previous string) string {
	if previous == "" {
		return "Question: " + question
	}
	return fmt.Sprintf("Previous question: %s\nQuestion: %s", previous, question)
}

// formatToolFailure renders a recoverable tool error as tool output for the model.
func formatToolFailure(err error, retryAllowed bool) string {
	if retryAllowed {
		return fmt.Sprintf("Error: %v\nRewrite the query to fix this error and try again.", err)
	}
	return fmt.Sprintf("Error: %v", err)
}
