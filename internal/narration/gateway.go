package narration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/storyvoice/internal/config"
	obsmetrics "github.com/smallbiznis/storyvoice/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	quotadomain "github.com/smallbiznis/storyvoice/internal/quota/domain"
	"github.com/smallbiznis/storyvoice/internal/ratelimit"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type GatewayParams struct {
	fx.In

	Log         *zap.Logger
	Metering    *config.MeteringConfigHolder
	Quota       quotadomain.Service
	Usage       usagedomain.Service
	Limiter     *ratelimit.NarrationLimiter `optional:"true"`
	Synthesizer Synthesizer                 `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics         `optional:"true"`
}

type Gateway struct {
	log        *zap.Logger
	metering   *config.MeteringConfigHolder
	quota      quotadomain.Service
	usage      usagedomain.Service
	limiter    *ratelimit.NarrationLimiter
	synth      Synthesizer
	obsMetrics *obsmetrics.Metrics
}

type SpeechResult struct {
	Output   *SynthesisOutput
	Record   *usagedomain.UsageRecord
	Decision quotadomain.Decision
}

type ConversationResult struct {
	Output *ConversationOutput
	// Record is nil for start and end actions, which are not billed.
	Record *usagedomain.UsageRecord
}

func NewGateway(p GatewayParams) *Gateway {
	return &Gateway{
		log:        p.Log.Named("narration.gateway"),
		metering:   p.Metering,
		quota:      p.Quota,
		usage:      p.Usage,
		limiter:    p.Limiter,
		synth:      p.Synthesizer,
		obsMetrics: p.ObsMetrics,
	}
}

func (g *Gateway) Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	cfg := g.metering.Get()
	if req.UserID <= 0 {
		return nil, ErrInvalidUser
	}
	if err := validateText(req.Text, cfg.MaxTextLength, ErrEmptyText); err != nil {
		return nil, err
	}
	voiceID := strings.TrimSpace(req.VoiceID)
	if voiceID == "" {
		return nil, ErrInvalidVoice
	}
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		modelID = cfg.DefaultModel
	}
	characters := int64(len(req.Text))

	var result *SpeechResult
	err := g.billable(ctx, req.UserID, characters, func(decision quotadomain.Decision) (map[string]any, error) {
		out, err := g.call(ctx, req.UserID, usagedomain.ServiceTypeTTS, func() (int, error) {
			o, err := g.synth.Synthesize(ctx, SynthesisCall{Text: req.Text, VoiceID: voiceID, ModelID: modelID})
			if err != nil {
				return 0, err
			}
			result = &SpeechResult{Output: o, Decision: decision}
			return len(o.Audio), nil
		})
		return out, err
	}, func(metadata map[string]any) error {
		rec, err := g.usage.Append(ctx, usagedomain.AppendRequest{
			UserID:         req.UserID,
			ServiceType:    usagedomain.ServiceTypeTTS,
			CharacterCount: characters,
			VoiceID:        voiceID,
			ModelID:        modelID,
			Metadata:       metadata,
		})
		if err != nil {
			return err
		}
		result.Record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Gateway) Converse(ctx context.Context, req ConversationRequest) (*ConversationResult, error) {
	cfg := g.metering.Get()
	if req.UserID <= 0 {
		return nil, ErrInvalidUser
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		return nil, ErrInvalidAgent
	}
	call := ConversationCall{
		AgentID:        agentID,
		ConversationID: strings.TrimSpace(req.ConversationID),
		Action:         req.Action,
		Message:        req.Message,
	}

	switch req.Action {
	case ActionStart, ActionEnd:
		if g.synth == nil {
			return nil, ErrUpstreamUnavailable
		}
		out, err := g.synth.Converse(ctx, call)
		if err != nil {
			return nil, g.upstreamFailure(ctx, req.UserID, usagedomain.ServiceTypeConversation, err, 0)
		}
		return &ConversationResult{Output: out}, nil
	case ActionMessage:
	default:
		return nil, ErrInvalidAction
	}

	if err := validateText(req.Message, cfg.MaxTextLength, ErrEmptyText); err != nil {
		return nil, err
	}
	characters := int64(len(req.Message))

	var result *ConversationResult
	err := g.billable(ctx, req.UserID, characters, func(quotadomain.Decision) (map[string]any, error) {
		return g.call(ctx, req.UserID, usagedomain.ServiceTypeConversation, func() (int, error) {
			o, err := g.synth.Converse(ctx, call)
			if err != nil {
				return 0, err
			}
			result = &ConversationResult{Output: o}
			return len(o.Audio), nil
		})
	}, func(metadata map[string]any) error {
		if result.Output.ConversationID != "" {
			metadata["conversation_id"] = result.Output.ConversationID
		}
		rec, err := g.usage.Append(ctx, usagedomain.AppendRequest{
			UserID:         req.UserID,
			ServiceType:    usagedomain.ServiceTypeConversation,
			CharacterCount: characters,
			VoiceID:        agentID,
			ModelID:        pricingdomain.ConversationModelID,
			Metadata:       metadata,
		})
		if err != nil {
			return err
		}
		result.Record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// billable runs the rate limit, optional per-user lock and quota check
// around upstream, then records usage only when upstream succeeded.
func (g *Gateway) billable(
	ctx context.Context,
	userID int64,
	characters int64,
	upstream func(quotadomain.Decision) (map[string]any, error),
	record func(metadata map[string]any) error,
) error {
	if g.synth == nil {
		return ErrUpstreamUnavailable
	}
	if err := g.limiter.AllowUser(ctx, userID); err != nil {
		return err
	}
	release, err := g.limiter.LockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	decision, err := g.quota.Enforce(ctx, userID, characters)
	if err != nil {
		return err
	}

	metadata, err := upstream(decision)
	if err != nil {
		return err
	}
	if err := record(metadata); err != nil {
		g.log.Error("narration.usage.append_failed",
			zap.Int64("user_id", userID),
			zap.Int64("characters", characters),
			zap.Error(err),
		)
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// call times an upstream invocation and converts failures to *UpstreamError.
func (g *Gateway) call(ctx context.Context, userID int64, serviceType usagedomain.ServiceType, fn func() (int, error)) (map[string]any, error) {
	start := time.Now()
	audioBytes, err := fn()
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return nil, g.upstreamFailure(ctx, userID, serviceType, err, elapsed)
	}

	g.log.Info("narration.upstream.completed",
		zap.Int64("user_id", userID),
		zap.String("service_type", string(serviceType)),
		zap.Int64("response_time_ms", elapsed),
		zap.Int("audio_bytes", audioBytes),
	)
	return map[string]any{
		"response_time_ms": elapsed,
		"audio_bytes":      audioBytes,
	}, nil
}

func (g *Gateway) upstreamFailure(ctx context.Context, userID int64, serviceType usagedomain.ServiceType, err error, elapsedMS int64) *UpstreamError {
	upstream := asUpstreamError(err)
	fields := []zap.Field{
		zap.Int64("user_id", userID),
		zap.String("service_type", string(serviceType)),
		zap.Int("status_code", upstream.StatusCode),
		zap.Bool("rate_limited", upstream.RateLimited()),
		zap.Int64("response_time_ms", elapsedMS),
		zap.String("details", upstream.Details),
	}
	if upstream.RateLimited() {
		g.log.Warn("narration.upstream.failed", fields...)
	} else {
		g.log.Error("narration.upstream.failed", fields...)
	}
	g.obsMetrics.RecordUpstreamFailure(ctx, string(serviceType), upstream.StatusCode)
	return upstream
}

func validateText(text string, maxLength int, emptyErr error) error {
	if strings.TrimSpace(text) == "" {
		return emptyErr
	}
	if maxLength > 0 && len(text) > maxLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrTextTooLong, len(text), maxLength)
	}
	return nil
}
