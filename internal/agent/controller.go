// Package agent runs the per-turn state machine: injection check,
// prompt composition, the tool-calling loop against the chat model,
// numeric validation of the draft answer, shape classification, and
// the bounded corrective retries between them.
package agent

import (
	"context"
	"fmt"
	"time"

	"flightlens/internal/docs"
	"flightlens/internal/llm"
	"flightlens/internal/logging"
	"flightlens/internal/safety"
	"flightlens/internal/session"
	"flightlens/internal/tools"
	"flightlens/internal/validator"
)

// DocSearcher is the slice of the doc index the controller consumes.
type DocSearcher interface {
	Search(ctx context.Context, query string, k int) ([]docs.SearchResult, error)
}

// Options bounds a turn.
type Options struct {
	MaxToolHops          int // tool-call rounds per turn
	MaxQueryCorrections  int // numeric-discrepancy corrections per turn
	MaxAnswerCorrections int // answer-shape corrections per turn
	DocTopK              int
	TurnDeadline         time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxToolHops <= 0 {
		o.MaxToolHops = 4
	}
	if o.MaxQueryCorrections <= 0 {
		o.MaxQueryCorrections = 1
	}
	if o.MaxAnswerCorrections <= 0 {
		o.MaxAnswerCorrections = 2
	}
	if o.DocTopK <= 0 {
		o.DocTopK = 3
	}
	if o.TurnDeadline <= 0 {
		o.TurnDeadline = 5 * time.Minute
	}
}

// Controller drives turns. One controller serves all sessions; per-turn
// state lives on the stack.
type Controller struct {
	client llm.Client
	docs   DocSearcher
	opts   Options
}

// NewController creates a controller. docs may be nil when no index is
// available; turns then run without retrieved documentation.
func NewController(client llm.Client, docSearcher DocSearcher, opts Options) *Controller {
	opts.applyDefaults()
	return &Controller{client: client, docs: docSearcher, opts: opts}
}

// TurnResult is the full outcome of one conversation turn.
type TurnResult struct {
	Response        string              `json:"response"`
	Thinking        []string            `json:"thinking,omitempty"`
	RelevantDocs    []docs.SearchResult `json:"relevantDocs,omitempty"`
	DataSchema      string              `json:"dataSchema,omitempty"`
	AvailableTables []string            `json:"availableTables,omitempty"`
	QueryValidation *validator.Report   `json:"queryValidation,omitempty"`
	Refused         bool                `json:"refused,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
}

// Turn processes one user message against a session. Turns on the same
// session are serialized; the final (user, assistant) pair is appended
// to history exactly once, and not at all on refusal or error.
func (c *Controller) Turn(ctx context.Context, sess *session.Session, message string) (*TurnResult, error) {
	sess.Lock()
	defer sess.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.TurnDeadline)
	defer cancel()

	timer := logging.StartTimer(logging.CategoryAgent, "Turn")
	defer timer.Stop()

	result := &TurnResult{Timestamp: time.Now()}
	trace := func(format string, args ...interface{}) {
		result.Thinking = append(result.Thinking, fmt.Sprintf(format, args...))
	}

	trace("INJECT_CHECK")
	verdict := safety.CheckInjection(ctx, c.client, message)
	if verdict.Suspicious {
		trace("REFUSE: %s risk via %s", verdict.Risk, verdict.Source)
		logging.Agent("turn refused: injection (%s, %s)", verdict.Risk, verdict.Source)
		result.Response = refusalText
		result.Refused = true
		return result, nil
	}

	trace("BUILD_PROMPT")
	runtime := tools.NewRuntime(sess.Store, sess.Summary.Schemas)
	result.DataSchema = runtime.SchemaSummary()
	if tables, err := sess.Store.ListTables(); err == nil {
		result.AvailableTables = tables
	}

	if c.docs != nil {
		hits, err := c.docs.Search(ctx, message, c.opts.DocTopK)
		if err != nil {
			logging.AgentDebug("doc search unavailable for this turn: %v", err)
		} else {
			result.RelevantDocs = hits
		}
	}

	system := buildSystemPrompt(result.DataSchema, result.RelevantDocs)

	contents := historyContents(sess.History())
	contents = append(contents, llm.TextContent("user", message))

	defs := toolDeclarations()

	var (
		hops       int
		queryCorr  int
		answerCorr int
	)

	for {
		trace("LLM_CALL")
		reply, err := c.client.Chat(ctx, system, contents, defs)
		if err != nil {
			if ctx.Err() != nil {
				trace("DEADLINE")
				return nil, fmt.Errorf("turn deadline exceeded: %w", ctx.Err())
			}
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		if reply.HasToolCalls() {
			if hops >= c.opts.MaxToolHops {
				trace("TOOL_HOP_BOUND")
				logging.Agent("tool-hop bound reached after %d rounds", hops)
				result.Response = fmt.Sprintf(
					"I could not settle on an answer within %d rounds of data queries. "+
						"Try a narrower question.", c.opts.MaxToolHops)
				c.commit(sess, message, result)
				return result, nil
			}
			hops++

			results := make([]llm.ToolResult, len(reply.ToolCalls))
			for i, call := range reply.ToolCalls {
				trace("RUN_TOOLS: %s", call.Name)
				results[i] = llm.ToolResult{
					Name:   call.Name,
					Result: runtime.Invoke(call.Name, call.Args),
				}
			}
			contents = append(contents, llm.CallContent(reply.ToolCalls), llm.ResultContent(results))
			continue
		}

		text := reply.Text

		report := validator.Validate(sess.Store, text)
		result.QueryValidation = report
		trace("VALIDATE_QUERIES: %d cited, %d discrepancies",
			report.TotalQueries, report.QueriesWithDiscrepancies)

		if report.HasDiscrepancy() && queryCorr < c.opts.MaxQueryCorrections {
			queryCorr++
			trace("CORRECTION: query discrepancy %d/%d", queryCorr, c.opts.MaxQueryCorrections)
			contents = append(contents,
				llm.TextContent("model", text),
				llm.TextContent("user", queryCorrectionPrompt(text, report)))
			continue
		}

		class := safety.ClassifyAnswer(ctx, c.client, message, text)
		trace("CLASSIFY_ANSWER: %s", class.Category)

		if class.IsValid {
			trace("EMIT")
			result.Response = text
			c.commit(sess, message, result)
			return result, nil
		}

		if answerCorr < c.opts.MaxAnswerCorrections {
			answerCorr++
			trace("CORRECTION: answer shape %d/%d", answerCorr, c.opts.MaxAnswerCorrections)
			contents = append(contents,
				llm.TextContent("model", text),
				llm.TextContent("user", shapeCorrectionPrompt(text, class.Category, class.Suggestion)))
			continue
		}

		trace("EMIT_BEST_EFFORT")
		logging.Agent("answer-shape budget exhausted, emitting %s response", class.Category)
		result.Response = text
		c.commit(sess, message, result)
		return result, nil
	}
}

// commit records the turn: history append (once) and the validation
// report for the session's history endpoint.
func (c *Controller) commit(sess *session.Session, message string, result *TurnResult) {
	sess.AppendTurn("user", message)
	sess.AppendTurn("model", result.Response)
	if result.QueryValidation != nil {
		sess.Validations.Add(result.QueryValidation)
	}
}

func historyContents(turns []session.Turn) []llm.Content {
	contents := make([]llm.Content, 0, len(turns))
	for _, turn := range turns {
		contents = append(contents, llm.TextContent(turn.Role, turn.Text))
	}
	return contents
}

// toolDeclarations converts the runtime's definitions to the gateway's
// wire type.
func toolDeclarations() []llm.FunctionDeclaration {
	defs := tools.Definitions()
	out := make([]llm.FunctionDeclaration, len(defs))
	for i, d := range defs {
		out[i] = llm.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}
	return out
}
