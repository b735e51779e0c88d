package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
)

type ViolationType string

const (
	ViolationExceeded      ViolationType = "exceeded"
	ViolationCriticalSpike ViolationType = "critical_spike"
)

type Violation struct {
	Type           ViolationType        `json:"type"`
	Period         usagedomain.Period   `json:"period"`
	TotalCost      pricingdomain.Amount `json:"total_cost"`
	Threshold      pricingdomain.Amount `json:"threshold"`
	Overage        pricingdomain.Amount `json:"overage"`
	PercentageOver float64              `json:"percentage_over"`
	Message        string               `json:"message"`
}

// Evaluation is the outcome of checking one period against its threshold.
// Violations are ordered exceeded first, critical spike second.
type Evaluation struct {
	Period       usagedomain.Period   `json:"period"`
	TotalCost    pricingdomain.Amount `json:"total_cost"`
	Threshold    pricingdomain.Amount `json:"threshold"`
	HasThreshold bool                 `json:"has_threshold"`
	Violations   []Violation          `json:"violations"`
}

func (e Evaluation) Violated() bool { return len(e.Violations) > 0 }

// PercentUsed is TotalCost as a percentage of Threshold, 0 without a threshold.
func (e Evaluation) PercentUsed() float64 {
	if !e.HasThreshold {
		return 0
	}
	return e.TotalCost.PercentOf(e.Threshold)
}

type Admin struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AdminDirectory supplies the recipients of cost alerts.
type AdminDirectory interface {
	Admins(ctx context.Context) ([]Admin, error)
}

type StaticAdminDirectory struct {
	admins []Admin
}

func NewStaticAdminDirectory(emails []string) *StaticAdminDirectory {
	admins := make([]Admin, 0, len(emails))
	seen := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		admins = append(admins, Admin{Email: email})
	}
	return &StaticAdminDirectory{admins: admins}
}

func (d *StaticAdminDirectory) Admins(context.Context) ([]Admin, error) {
	out := make([]Admin, len(d.admins))
	copy(out, d.admins)
	return out, nil
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
)

type DeliveryOutcome struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Delivered bool    `json:"delivered"`
	Error     string  `json:"error,omitempty"`
}

type DispatchResult struct {
	DispatchID string             `json:"dispatch_id"`
	Period     usagedomain.Period `json:"period"`
	Subject    string             `json:"subject"`
	Outcomes   []DeliveryOutcome  `json:"outcomes"`
}

func (r DispatchResult) Delivered() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Delivered {
			n++
		}
	}
	return n
}

func (r DispatchResult) Failed() int {
	return len(r.Outcomes) - r.Delivered()
}

type RunStatus string

const (
	RunStatusOK        RunStatus = "ok"
	RunStatusViolation RunStatus = "violation"
	RunStatusAlerted   RunStatus = "alerted"
)

type RunRequest struct {
	Period usagedomain.Period `json:"period"`
	Notify bool               `json:"notify"`
}

type RunResult struct {
	RunID      string                  `json:"run_id"`
	Status     RunStatus               `json:"status"`
	Stats      usagedomain.PeriodStats `json:"stats"`
	Evaluation Evaluation              `json:"evaluation"`
	Dispatch   *DispatchResult         `json:"dispatch,omitempty"`
	// DispatchError is set when an alerted run could not complete its dispatch.
	DispatchError string    `json:"dispatch_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// Monitor evaluates period cost against configured thresholds.
type Monitor interface {
	Evaluate(ctx context.Context, period usagedomain.Period) (Evaluation, error)
}

// Dispatcher notifies administrators about violations. Per-recipient
// failures are reported in the result, never as an error.
type Dispatcher interface {
	Notify(ctx context.Context, eval Evaluation) (DispatchResult, error)
}

type Job interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

var (
	ErrInvalidThreshold  = errors.New("invalid_threshold")
	ErrInvalidMultiplier = errors.New("invalid_critical_multiplier")
)
