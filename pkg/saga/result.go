package saga

// CompensationResult records one compensation attempt, in the order the
// attempts were made.
type CompensationResult struct {
	StepName string
	Success  bool
	Err      error
}

// Result is the outcome of one saga run.
//
// CompletedSteps holds the names of steps whose forward action succeeded, in
// execution order. CompensationResults is populated only when a forward step
// failed after at least one step had completed; it lists every compensation
// attempt in the reverse order they were made, including the failed ones.
type Result[C any] struct {
	Success             bool
	Context             C
	CompletedSteps      []string
	FailedStep          string
	Err                 error
	CompensationResults []CompensationResult
}

// CompensationFailed reports whether any attempted compensation failed.
func (r Result[C]) CompensationFailed() bool {
	for _, c := range r.CompensationResults {
		if !c.Success {
			return true
		}
	}
	return false
}
