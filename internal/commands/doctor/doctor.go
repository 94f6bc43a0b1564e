// Package doctor runs health checks against the stimulus configuration,
// the router and the delivery log directory.
package doctor

import "context"

// Status is the outcome of one check item.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// CheckItem is a single line of a check result.
type CheckItem struct {
	Label  string `json:"label"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Result groups the items one check produced.
type Result struct {
	Name  string      `json:"name"`
	Items []CheckItem `json:"items"`
}

func (r *Result) add(status Status, label, detail string) {
	r.Items = append(r.Items, CheckItem{Label: label, Status: status, Detail: detail})
}

// Pass records a passing item.
func (r *Result) Pass(label, detail string) { r.add(StatusPass, label, detail) }

// Warn records a warning.
func (r *Result) Warn(label, detail string) { r.add(StatusWarn, label, detail) }

// Fail records a failure.
func (r *Result) Fail(label, detail string) { r.add(StatusFail, label, detail) }

// Check is one diagnostic.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// RunAll runs checks in order. A cancelled ctx stops before the next check.
func RunAll(ctx context.Context, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		if ctx.Err() != nil {
			break
		}
		results = append(results, check.Run(ctx))
	}
	return results
}

// Counts tallies items by status.
type Counts struct {
	Passed int `json:"passed"`
	Warned int `json:"warned"`
	Failed int `json:"failed"`
}

// Summary counts the items of every result.
func Summary(results []Result) Counts {
	var c Counts
	for _, r := range results {
		for _, item := range r.Items {
			switch item.Status {
			case StatusPass:
				c.Passed++
			case StatusWarn:
				c.Warned++
			case StatusFail:
				c.Failed++
			}
		}
	}
	return c
}
