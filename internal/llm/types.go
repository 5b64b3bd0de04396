package llm

// Wire types for the Gemini generateContent REST API. Only the fields
// this service uses are modeled.

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// FunctionResponse carries one tool result back to the model.
type FunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// Part is one content fragment: text, a function call, or a function
// response.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// Content is one conversation entry, role "user" or "model".
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// TextContent builds a plain text entry.
func TextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// CallContent rebuilds the model turn that requested the given calls,
// as multi-turn function calling requires echoing it back.
func CallContent(calls []ToolCall) Content {
	parts := make([]Part, len(calls))
	for i, call := range calls {
		parts[i] = Part{FunctionCall: &FunctionCall{Name: call.Name, Args: call.Args}}
	}
	return Content{Role: "model", Parts: parts}
}

// ResultContent packages tool results as a user turn of function
// responses, one per executed call.
func ResultContent(results []ToolResult) Content {
	parts := make([]Part, len(results))
	for i, res := range results {
		parts[i] = Part{FunctionResponse: &FunctionResponse{
			Name:     res.Name,
			Response: map[string]interface{}{"result": res.Result},
		}}
	}
	return Content{Role: "user", Parts: parts}
}

// FunctionDeclaration advertises one callable tool.
type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolCall is a parsed function call from a model reply.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// ToolResult is one executed tool call's JSON payload.
type ToolResult struct {
	Name   string
	Result string
}

// Reply is a parsed model response: free text, requested tool calls,
// or both.
type Reply struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// HasToolCalls reports whether the model requested any tool execution.
func (r *Reply) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Empty reports a degenerate reply with neither text nor tool calls.
func (r *Reply) Empty() bool { return r.Text == "" && len(r.ToolCalls) == 0 }

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type toolSet struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

type apiRequest struct {
	Contents          []Content        `json:"contents"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	Tools             []toolSet        `json:"tools,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type apiCandidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type apiResponse struct {
	Candidates []apiCandidate `json:"candidates"`
	Error      *apiError      `json:"error"`
}
