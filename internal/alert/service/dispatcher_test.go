package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/config"
	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	"github.com/smallbiznis/storyvoice/internal/providers/email"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingEmail struct {
	mu    sync.Mutex
	fail  map[string]error
	sent  []email.Message
	tried []string
}

func (r *recordingEmail) Send(_ context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tried = append(r.tried, msg.To[0])
	if err := r.fail[msg.To[0]]; err != nil {
		return err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type recordingSlack struct {
	channel string
	message string
	err     error
}

func (r *recordingSlack) PostMessage(_ context.Context, channel, message string) error {
	r.channel, r.message = channel, message
	return r.err
}

func violatedToday() alertdomain.Evaluation {
	return Evaluate(usagedomain.PeriodToday, pricingdomain.MustParseAmount("25.00"), ten, true, two)
}

func reportUsage() *stubUsage {
	return &stubUsage{
		top: []usagedomain.UserUsage{
			{UserID: 42, Requests: 1200, Characters: 1_500_000, TotalCost: pricingdomain.MustParseAmount("20.00")},
			{UserID: 7, Requests: 3, Characters: 900, TotalCost: pricingdomain.MustParseAmount("5.00")},
		},
		models: []usagedomain.ModelUsage{
			{ModelID: "eleven_flash_v2_5", Requests: 1203, TotalCost: pricingdomain.MustParseAmount("25.00")},
		},
	}
}

func TestNotifyIsolatesRecipientFailures(t *testing.T) {
	sender := &recordingEmail{fail: map[string]error{"b@example.com": errors.New("mailbox unavailable")}}
	core, logs := observer.New(zap.DebugLevel)
	usage := reportUsage()

	d := NewDispatcher(DispatcherParams{
		Log:    zap.New(core),
		Config: config.Config{DashboardURL: "https://storyvoice.test/dashboard"},
		Usage:  usage,
		Admins: alertdomain.NewStaticAdminDirectory([]string{"a@example.com", "b@example.com", "c@example.com"}),
		Email:  sender,
	})

	res, err := d.Notify(context.Background(), violatedToday())
	require.NoError(t, err)
	assert.NotEmpty(t, res.DispatchID)
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, 2, res.Delivered())
	assert.Equal(t, 1, res.Failed())
	assert.False(t, res.Outcomes[1].Delivered)
	assert.Equal(t, "mailbox unavailable", res.Outcomes[1].Error)
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, sender.tried)
	assert.Equal(t, 1, logs.FilterMessage("alert.delivery_failed").Len())
	assert.Equal(t, reportTopUsers, usage.topLimit)

	body := sender.sent[0].Text
	assert.Equal(t, "⚠️ Narration Cost Alert: today threshold exceeded", sender.sent[0].Subject)
	assert.Contains(t, body, "Period: Today\n")
	assert.Contains(t, body, "Total Cost: $25.00\n")
	assert.Contains(t, body, "Threshold: $10.00\n")
	assert.Contains(t, body, "  • Today cost $25.00 exceeds threshold $10.00 by $15.00 (150.0% over)\n")
	assert.Contains(t, body, "  • CRITICAL: Today cost is more than 2x the threshold!")
	assert.Contains(t, body, "  1. user 42 - $20.00 (1,200 requests, 1,500,000 chars)\n")
	assert.Contains(t, body, "  • eleven_flash_v2_5 - $25.00 (1,203 requests, avg $0.0207)\n")
	assert.Contains(t, body, "  4. Monitor costs closely over the next 24 hours\n")
	assert.Contains(t, body, "Dashboard: https://storyvoice.test/dashboard\n")
}

func TestNotifyWithoutRecipients(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sender := &recordingEmail{}
	d := NewDispatcher(DispatcherParams{
		Log:    zap.New(core),
		Usage:  reportUsage(),
		Admins: alertdomain.NewStaticAdminDirectory(nil),
		Email:  sender,
	})

	res, err := d.Notify(context.Background(), violatedToday())
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, sender.tried)
	assert.Equal(t, 1, logs.FilterMessage("alert.no_recipients").Len())
}

func TestNotifyPostsToSlack(t *testing.T) {
	sl := &recordingSlack{err: errors.New("invalid_token")}
	d := NewDispatcher(DispatcherParams{
		Log:    zap.NewNop(),
		Config: config.Config{Slack: config.SlackConfig{Channel: "#cost-alerts"}},
		Usage:  reportUsage(),
		Admins: alertdomain.NewStaticAdminDirectory([]string{"a@example.com"}),
		Email:  &recordingEmail{},
		Slack:  sl,
	})

	res, err := d.Notify(context.Background(), violatedToday())
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)
	assert.True(t, res.Outcomes[0].Delivered)
	assert.Equal(t, alertdomain.ChannelSlack, res.Outcomes[1].Channel)
	assert.False(t, res.Outcomes[1].Delivered)
	assert.Equal(t, "#cost-alerts", sl.channel)
	assert.Contains(t, sl.message, "Narration Cost Alert")
}

func TestStaticAdminDirectoryDedupes(t *testing.T) {
	dir := alertdomain.NewStaticAdminDirectory([]string{" a@example.com", "A@example.com", "", "b@example.com"})
	admins, err := dir.Admins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []alertdomain.Admin{{Email: "a@example.com"}, {Email: "b@example.com"}}, admins)
}
