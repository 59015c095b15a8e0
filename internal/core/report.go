package core

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Phase is a stage of a reconciler operation.
type Phase string

const (
	PhaseResolving   Phase = "resolving"
	PhaseValidating  Phase = "validating"
	PhaseInstalling  Phase = "installing"
	PhaseRollingBack Phase = "rolling-back"
	PhaseRecording   Phase = "recording"
	PhaseInjecting   Phase = "injecting"
	PhaseDone        Phase = "done"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StatusOK         StepStatus = "ok"
	StatusFailed     StepStatus = "failed"
	StatusRolledBack StepStatus = "rolled-back"
	StatusSkipped    StepStatus = "skipped"
	StatusWarning    StepStatus = "warning"
)

// Step is one reported action of an operation.
type Step struct {
	Phase   Phase      `json:"phase"`
	Agent   string     `json:"agent,omitempty"`
	Subject string     `json:"subject"`
	Status  StepStatus `json:"status"`
	Detail  string     `json:"detail,omitempty"`
}

// VersionChange classifies an install relative to the previous record.
type VersionChange string

const (
	ChangeNew       VersionChange = "new"
	ChangeUpgrade   VersionChange = "upgrade"
	ChangeDowngrade VersionChange = "downgrade"
	ChangeReinstall VersionChange = "reinstall"
	ChangeReplace   VersionChange = "replace" // versions are not comparable
)

// Report is the user-visible account of one operation.
type Report struct {
	ID              string        `json:"id"`
	Operation       string        `json:"operation"`
	Extension       string        `json:"extension,omitempty"`
	Version         string        `json:"version,omitempty"`
	PreviousVersion string        `json:"previousVersion,omitempty"`
	Change          VersionChange `json:"change,omitempty"`
	Phase           Phase         `json:"phase"`
	Steps           []Step        `json:"steps"`

	Partial []*PartialAgentError `json:"-"`

	log *slog.Logger
}

func (r *Report) add(phase Phase, agent, subject string, status StepStatus, detail string) {
	r.Steps = append(r.Steps, Step{Phase: phase, Agent: agent, Subject: subject, Status: status, Detail: detail})
	if r.log != nil {
		r.log.Debug("step",
			"phase", string(phase),
			"agent", agent,
			"subject", subject,
			"status", string(status),
			"detail", detail)
	}
}

func (r *Report) addf(phase Phase, agent, subject string, status StepStatus, format string, args ...any) {
	r.add(phase, agent, subject, status, fmt.Sprintf(format, args...))
}

// Count returns the number of steps with the given status.
func (r *Report) Count(status StepStatus) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Filter returns the steps with the given status.
func (r *Report) Filter(status StepStatus) []Step {
	var out []Step
	for _, s := range r.Steps {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// Degraded reports whether the operation completed with failed or
// rolled-back steps.
func (r *Report) Degraded() bool {
	return r.Count(StatusFailed) > 0 || r.Count(StatusRolledBack) > 0
}

// ClassifyVersion compares the previous and the new version of an
// extension. A leading "v" is tolerated.
func ClassifyVersion(previous, next string) VersionChange {
	if previous == "" {
		return ChangeNew
	}
	pv, err := semver.NewVersion(strings.TrimPrefix(previous, "v"))
	if err != nil {
		return classifyRaw(previous, next)
	}
	nv, err := semver.NewVersion(strings.TrimPrefix(next, "v"))
	if err != nil {
		return classifyRaw(previous, next)
	}
	switch pv.Compare(nv) {
	case -1:
		return ChangeUpgrade
	case 1:
		return ChangeDowngrade
	default:
		return ChangeReinstall
	}
}

func classifyRaw(previous, next string) VersionChange {
	if previous == next {
		return ChangeReinstall
	}
	return ChangeReplace
}
