package agent

import (
	"fmt"
	"strings"

	"flightlens/internal/docs"
	"flightlens/internal/validator"
)

// refusalText is the fixed response for messages flagged as injection
// attempts. The refused message is never appended to history.
const refusalText = "I can only help with analysis of the uploaded flight log. " +
	"I can't follow instructions that change my role or behavior. " +
	"Ask me about the flight data and I'll look into it."

const systemPromptHeader = `You are a flight data analyst answering questions about one uploaded UAV flight log. The log has been loaded into SQL tables you can query with the provided tools.

Rules:
1. Asking for clarification is as good an outcome as answering. If the question is ambiguous or could refer to several tables, ask a specific question instead of guessing.
2. Call getDataSchema before querying any field you have not already seen in this conversation. Never assume a column exists.
3. If a field the user asks about does not appear in any table schema, say the data is not available in this log. Do not invent field names and do not substitute a different field.
4. Answer from query results only, never from general knowledge about typical flights.

Output shape, exactly one of:
ANSWER: <the concrete result, with units>
DATA SOURCE: <the SQL you ran>

or:
CLARIFICATION: <a specific question for the user>
REASON: <why you need it>`

// buildSystemPrompt composes the per-turn system prompt from the
// session's schema summary and retrieved documentation.
func buildSystemPrompt(schemaSummary string, hits []docs.SearchResult) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)

	if schemaSummary != "" {
		b.WriteString("\n\nAvailable tables:\n")
		b.WriteString(schemaSummary)
	}

	if len(hits) > 0 {
		b.WriteString("\nRelevant documentation:\n")
		for _, hit := range hits {
			b.WriteString("- ")
			b.WriteString(hit.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// queryCorrectionPrompt confronts the model with the validator verdict.
func queryCorrectionPrompt(original string, report *validator.Report) string {
	var b strings.Builder
	b.WriteString("Your previous response contained a number that does not match the data. Your response was:\n\n")
	b.WriteString(original)
	b.WriteString("\n\nRe-executing the SQL you cited gave different results:\n")
	for _, v := range report.Validations {
		if !v.Discrepancy {
			continue
		}
		fmt.Fprintf(&b, "- %s actually returns %v, you claimed %v\n",
			v.Query, v.ActualValues, *v.ClaimedValue)
	}
	b.WriteString("\nCorrect your answer using the actual query results. " +
		"The tools are still available if you need to re-run anything. " +
		"Keep the ANSWER: / DATA SOURCE: shape.")
	return b.String()
}

// shapeCorrectionPrompt asks for a terminal answer or clarification.
func shapeCorrectionPrompt(original, category, suggestion string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous response was classified as %s, not a usable answer. It was:\n\n%s\n\n", category, original)
	if suggestion != "" {
		b.WriteString("Guidance: " + suggestion + "\n\n")
	}
	b.WriteString("Either deliver the concrete result now (ANSWER: ... / DATA SOURCE: ...) " +
		"or ask the user a specific question (CLARIFICATION: ... / REASON: ...). " +
		"The query tools are still available.")
	return b.String()
}
