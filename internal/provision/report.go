package provision

// Status is the outcome of a step.
type Status string

const (
	// StatusChanged means the step modified the target.
	StatusChanged Status = "changed"
	// StatusUnchanged means the target was already in the desired state.
	StatusUnchanged Status = "unchanged"
	// StatusPlanned means the step would modify the target, but this is a dry run.
	StatusPlanned Status = "planned"
	// StatusOK means a check or a command succeeded.
	StatusOK Status = "ok"
	// StatusFailed means the step failed.
	StatusFailed Status = "failed"
	// StatusRolledBack means the step changed the target, and the change was undone.
	StatusRolledBack Status = "rolled-back"
)

// StepResult is the outcome of one step of a run.
type StepResult struct {
	Step   string `yaml:"step"`
	Status Status `yaml:"status"`
	Path   string `yaml:"path,omitempty"`
	Detail string `yaml:"detail,omitempty"`
}

// Report lists the steps of a run, in execution order.
type Report struct {
	Host   string       `yaml:"host"`
	RunID  string       `yaml:"run_id,omitempty"`
	DryRun bool         `yaml:"dry_run,omitempty"`
	Steps  []StepResult `yaml:"steps"`
}

func (r *Report) add(step string, status Status, path, detail string) {
	r.Steps = append(r.Steps, StepResult{Step: step, Status: status, Path: path, Detail: detail})
}

// Failed returns the steps which failed.
func (r Report) Failed() []StepResult {
	var failed []StepResult
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			failed = append(failed, s)
		}
	}
	return failed
}

// mark updates the status of the last result of step.
func (r *Report) mark(step string, status Status, detail string) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Step != step {
			continue
		}
		r.Steps[i].Status = status
		if detail != "" {
			r.Steps[i].Detail = detail
		}
		return
	}
}
