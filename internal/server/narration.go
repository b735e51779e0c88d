package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storyvoice/internal/narration"
)

const headerUsageRecordID = "X-Usage-Record-ID"

type speechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id"`
}

type conversationRequest struct {
	AgentID        string `json:"agent_id"`
	ConversationID string `json:"conversation_id"`
	Action         string `json:"action"`
	Message        string `json:"message"`
}

type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply,omitempty"`
	Audio          []byte `json:"audio,omitempty"`
	UsageRecordID  string `json:"usage_record_id,omitempty"`
}

// GetQuota reports the caller's quota decision for an optional number of
// requested characters. A denial is answered with 429 and the decision.
func (s *Server) GetQuota(c *gin.Context) {
	requested, err := parseOptionalInt64(c.Query("requested"))
	if err != nil {
		AbortWithError(c, newValidationError("requested", "invalid_requested_characters", "invalid requested"))
		return
	}
	var n int64
	if requested != nil {
		n = *requested
	}

	decision, err := s.quotasvc.Enforce(c.Request.Context(), userIDFrom(c), n)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) Synthesize(c *gin.Context) {
	var req speechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.gateway.Synthesize(c.Request.Context(), narration.SpeechRequest{
		UserID:  userIDFrom(c),
		Text:    req.Text,
		VoiceID: strings.TrimSpace(req.VoiceID),
		ModelID: strings.TrimSpace(req.ModelID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	contentType := result.Output.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	if result.Record != nil {
		c.Header(headerUsageRecordID, result.Record.ID.String())
	}
	c.Data(http.StatusOK, contentType, result.Output.Audio)
}

func (s *Server) Converse(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.gateway.Converse(c.Request.Context(), narration.ConversationRequest{
		UserID:         userIDFrom(c),
		AgentID:        strings.TrimSpace(req.AgentID),
		ConversationID: strings.TrimSpace(req.ConversationID),
		Action:         narration.ConversationAction(strings.ToLower(strings.TrimSpace(req.Action))),
		Message:        req.Message,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := conversationResponse{}
	if result.Output != nil {
		resp.ConversationID = result.Output.ConversationID
		resp.Reply = result.Output.Reply
		resp.Audio = result.Output.Audio
	}
	if result.Record != nil {
		resp.UsageRecordID = result.Record.ID.String()
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
