package harness

// TraceEvent records one step or notification. Input and Output hold only
// plain JSON values so traces serialize deterministically.
type TraceEvent struct {
	Seq    int            `json:"seq"`
	Type   string         `json:"type"` // step kind, or "notify"
	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains steps and notifications in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record appends an event with the next sequence number.
func (r *Result) record(typ string, input, output map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    len(r.Trace) + 1,
		Type:   typ,
		Input:  input,
		Output: output,
	})
}
