package service

import (
	"fmt"
	"strings"

	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
)

const reportTopUsers = 5

var remediationSteps = []string{
	"Review usage patterns in the admin dashboard",
	"Check for potential abuse or runaway processes",
	"Consider adjusting daily user limits if needed",
	"Monitor costs closely over the next 24 hours",
}

type report struct {
	Evaluation   alertdomain.Evaluation
	TopUsers     []usagedomain.UserUsage
	Models       []usagedomain.ModelUsage
	DashboardURL string
}

func subjectFor(period usagedomain.Period) string {
	return fmt.Sprintf("⚠️ Narration Cost Alert: %s threshold exceeded", period)
}

func (r report) Text() string {
	var b strings.Builder
	eval := r.Evaluation

	b.WriteString("Narration Cost Alert - StoryVoice\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	fmt.Fprintf(&b, "Period: %s\n", periodTitle(eval.Period))
	fmt.Fprintf(&b, "Total Cost: $%s\n", usd(eval.TotalCost))
	if eval.HasThreshold {
		fmt.Fprintf(&b, "Threshold: $%s\n", usd(eval.Threshold))
	} else {
		b.WriteString("Threshold: none\n")
	}
	b.WriteString("Status: EXCEEDED\n\n")

	b.WriteString("Violations:\n")
	for _, v := range eval.Violations {
		fmt.Fprintf(&b, "  • %s\n", v.Message)
	}
	b.WriteString("\n")

	b.WriteString("Top Users by Cost:\n")
	if len(r.TopUsers) == 0 {
		b.WriteString("  (none)\n")
	}
	for i, u := range r.TopUsers {
		fmt.Fprintf(&b, "  %d. user %d - $%s (%s requests, %s chars)\n",
			i+1, u.UserID, usd(u.TotalCost), count(u.Requests), count(u.Characters))
	}
	b.WriteString("\n")

	b.WriteString("Cost by Model:\n")
	if len(r.Models) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, m := range r.Models {
		fmt.Fprintf(&b, "  • %s - $%s (%s requests, avg $%s)\n",
			m.ModelID, usd(m.TotalCost), count(m.Requests), usd4(perRequest(m.TotalCost, m.Requests)))
	}
	b.WriteString("\n")

	b.WriteString("Action Required:\n")
	for i, step := range remediationSteps {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
	}
	b.WriteString("\n")

	if r.DashboardURL != "" {
		fmt.Fprintf(&b, "Dashboard: %s\n", r.DashboardURL)
	}
	return b.String()
}
