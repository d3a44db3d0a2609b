package meetings

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talenthall/backend/internal/middleware"
	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/pkg/response"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type inviteRequest struct {
	EntryID string `json:"entry_id" binding:"required"`
}

// Invite handles POST /api/meetings/invite.
func (h *Handler) Invite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	entryID, err := uuid.Parse(req.EntryID)
	if err != nil {
		response.BadRequest(c, "Invalid entry_id")
		return
	}
	recruiterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	meeting, err := h.service.Invite(c.Request.Context(), recruiterID, entryID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, meeting)
}

// AssignBooth handles POST /api/meetings/booth/:boothId/assign. The
// caller becomes the booth's assigned recruiter.
func (h *Handler) AssignBooth(c *gin.Context) {
	boothID, err := uuid.Parse(c.Param("boothId"))
	if err != nil {
		response.BadRequest(c, "Invalid booth id")
		return
	}
	recruiterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.service.AssignRecruiter(c.Request.Context(), boothID, recruiterID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"booth_id": boothID, "recruiter_id": recruiterID})
}

// Get handles GET /api/meetings/:meetingId.
func (h *Handler) Get(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	meeting, err := h.service.Meeting(c.Request.Context(), meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, meeting)
}

// BoothMeetings handles GET /api/meetings/booth/:boothId.
func (h *Handler) BoothMeetings(c *gin.Context) {
	boothID, err := uuid.Parse(c.Param("boothId"))
	if err != nil {
		response.BadRequest(c, "Invalid booth id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.service.BoothMeetings(c.Request.Context(), boothID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// StartCall handles POST /api/meetings/:meetingId/start-call.
func (h *Handler) StartCall(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	session, err := h.service.StartCall(c.Request.Context(), meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// EndCall handles POST /api/meetings/:meetingId/end-call.
func (h *Handler) EndCall(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	meeting, err := h.service.EndCall(c.Request.Context(), meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, meeting)
}

type interpreterRequestBody struct {
	Language string `json:"language"`
	Reason   string `json:"reason"`
}

// RequestInterpreter handles POST /api/meetings/:meetingId/interpreter/request.
func (h *Handler) RequestInterpreter(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	var req interpreterRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	requesterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	meeting, err := h.service.RequestInterpreter(c.Request.Context(), requesterID, meetingID, req.Language, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, meeting)
}

// AcceptInterpreter handles POST /api/meetings/:meetingId/interpreter/accept.
func (h *Handler) AcceptInterpreter(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	interpreterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	meeting, err := h.service.AcceptInterpreterRequest(c.Request.Context(), interpreterID, meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, meeting)
}

// JoinInterpreter handles POST /api/meetings/:meetingId/interpreter/join.
func (h *Handler) JoinInterpreter(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	interpreterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	session, err := h.service.JoinAsInterpreter(c.Request.Context(), interpreterID, meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

type meetingMessageRequest struct {
	Type    string `json:"type"`
	Content string `json:"content" binding:"required"`
}

// SendMessage handles POST /api/meetings/:meetingId/messages.
func (h *Handler) SendMessage(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	var req meetingMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	msgType := models.MessageType(req.Type)
	if msgType == "" {
		msgType = models.MessageText
	}
	senderID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	senderRole := c.MustGet(middleware.ContextUserRole).(string)

	msg, err := h.service.SendMessage(c.Request.Context(), meetingID, senderID, senderRole, msgType, req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// Messages handles GET /api/meetings/:meetingId/messages.
func (h *Handler) Messages(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	msgs, err := h.service.Messages(c.Request.Context(), meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msgs)
}

type reviewRequest struct {
	Rating   *int    `json:"rating"`
	Feedback *string `json:"feedback"`
}

// SubmitReview handles POST /api/meetings/:meetingId/review.
func (h *Handler) SubmitReview(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	recruiterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	meeting, err := h.service.SubmitReview(c.Request.Context(), recruiterID, meetingID, req.Rating, req.Feedback)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, meeting)
}

// SubmitFeedback handles POST /api/meetings/:meetingId/feedback.
func (h *Handler) SubmitFeedback(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	var body json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	jobSeekerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	meeting, err := h.service.SubmitFeedback(c.Request.Context(), jobSeekerID, meetingID, body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, meeting)
}

// RegisterRoutes wires the meetings API under the authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	m := rg.Group("/meetings")
	{
		m.POST("/invite", middleware.RequireCapability(middleware.OpQueueInvite), h.Invite)
		m.GET("/booth/:boothId", middleware.RequireCapability(middleware.OpQueueBoothView), h.BoothMeetings)
		m.POST("/booth/:boothId/assign", middleware.RequireCapability(middleware.OpBoothAssign), h.AssignBooth)
		m.GET("/:meetingId", middleware.RequireCapability(middleware.OpMeetingView), h.Get)
		m.POST("/:meetingId/start-call", middleware.RequireCapability(middleware.OpMeetingStartCall), h.StartCall)
		m.POST("/:meetingId/end-call", middleware.RequireCapability(middleware.OpMeetingEndCall), h.EndCall)
		m.POST("/:meetingId/interpreter/request", middleware.RequireCapability(middleware.OpInterpreterRequest), h.RequestInterpreter)
		m.POST("/:meetingId/interpreter/accept", middleware.RequireCapability(middleware.OpInterpreterAccept), h.AcceptInterpreter)
		m.POST("/:meetingId/interpreter/join", middleware.RequireCapability(middleware.OpInterpreterJoin), h.JoinInterpreter)
		m.POST("/:meetingId/messages", middleware.RequireCapability(middleware.OpMeetingMessage), h.SendMessage)
		m.GET("/:meetingId/messages", middleware.RequireCapability(middleware.OpMeetingMessage), h.Messages)
		m.POST("/:meetingId/review", middleware.RequireCapability(middleware.OpMeetingRating), h.SubmitReview)
		m.POST("/:meetingId/feedback", middleware.RequireCapability(middleware.OpMeetingFeedback), h.SubmitFeedback)
	}
}
