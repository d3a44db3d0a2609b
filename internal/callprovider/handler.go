package callprovider

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/talenthall/backend/internal/meetings"
	"github.com/talenthall/backend/internal/middleware"
	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/pkg/apperr"
	"github.com/talenthall/backend/pkg/response"
)

type Handler struct {
	tokens   *TokenService
	meetings *meetings.Service
}

func NewHandler(tokens *TokenService, svc *meetings.Service) *Handler {
	return &Handler{tokens: tokens, meetings: svc}
}

type tokenRequest struct {
	MeetingID string `json:"meeting_id" binding:"required"`
}

// Token handles POST /api/call/token: issues a room token for the
// meeting's live call to one of its participants.
func (h *Handler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	meetingID, err := uuid.Parse(req.MeetingID)
	if err != nil {
		response.BadRequest(c, "Invalid meeting_id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role := c.MustGet(middleware.ContextUserRole).(string)

	meeting, err := h.meetings.Meeting(c.Request.Context(), meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if meeting.Status != models.MeetingActive || meeting.CallSessionID == nil {
		response.Error(c, apperr.Validation("status", "meeting has no live call"))
		return
	}
	participant := userID == meeting.RecruiterID || userID == meeting.JobSeekerID ||
		(meeting.InterpreterID != nil && userID == *meeting.InterpreterID)
	if !participant {
		response.Error(c, apperr.Permission("not a participant of this meeting"))
		return
	}

	session, err := h.meetings.CallSession(c.Request.Context(), *meeting.CallSessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	token, expiresAt, err := h.tokens.RoomToken(userID, session.RoomName, role)
	if err != nil {
		response.Internal(c, "Failed to sign room token")
		return
	}
	response.OK(c, gin.H{
		"token":      token,
		"room_name":  session.RoomName,
		"expires_at": expiresAt,
	})
}

// RegisterRoutes wires the call token API under the authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/call/token", middleware.RequireCapability(middleware.OpCallToken), h.Token)
}
