package queue

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talenthall/backend/internal/auth"
	"github.com/talenthall/backend/internal/middleware"
	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/pkg/apperr"
	"github.com/talenthall/backend/pkg/response"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type joinRequest struct {
	EventID             string  `json:"event_id" binding:"required"`
	BoothID             string  `json:"booth_id" binding:"required"`
	InterpreterCategory *string `json:"interpreter_category"`
	AgreedToTerms       bool    `json:"agreed_to_terms"`
	QueueToken          string  `json:"queue_token"`
}

// Join handles POST /api/queue/join.
func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		response.BadRequest(c, "Invalid event_id")
		return
	}
	boothID, err := uuid.Parse(req.BoothID)
	if err != nil {
		response.BadRequest(c, "Invalid booth_id")
		return
	}
	jobSeekerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	entry, err := h.service.Join(c.Request.Context(), JoinRequest{
		JobSeekerID:         jobSeekerID,
		EventID:             eventID,
		BoothID:             boothID,
		InterpreterCategory: req.InterpreterCategory,
		AgreedToTerms:       req.AgreedToTerms,
		QueueToken:          req.QueueToken,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

type leaveRequest struct {
	BoothID string `json:"booth_id" binding:"required"`
}

// Leave handles POST /api/queue/leave.
func (h *Handler) Leave(c *gin.Context) {
	var req leaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	boothID, err := uuid.Parse(req.BoothID)
	if err != nil {
		response.BadRequest(c, "Invalid booth_id")
		return
	}
	jobSeekerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	entry, err := h.service.Leave(c.Request.Context(), jobSeekerID, boothID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}

type leaveWithMessageRequest struct {
	BoothID     string `json:"booth_id" binding:"required"`
	QueueToken  string `json:"queue_token" binding:"required"`
	MessageType string `json:"message_type"`
	Content     string `json:"content" binding:"required"`
}

// LeaveWithMessage handles POST /api/queue/leave-with-message.
func (h *Handler) LeaveWithMessage(c *gin.Context) {
	var req leaveWithMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	boothID, err := uuid.Parse(req.BoothID)
	if err != nil {
		response.BadRequest(c, "Invalid booth_id")
		return
	}
	msgType := models.MessageType(req.MessageType)
	if msgType == "" {
		msgType = models.MessageText
	}
	if msgType != models.MessageText && msgType != models.MessageAudio && msgType != models.MessageVideo {
		response.BadRequest(c, "Invalid message_type")
		return
	}
	jobSeekerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	entry, err := h.service.LeaveWithMessage(c.Request.Context(), jobSeekerID, boothID, req.QueueToken, msgType, req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}

// Status handles GET /api/queue/status/:boothId.
func (h *Handler) Status(c *gin.Context) {
	boothID, err := uuid.Parse(c.Param("boothId"))
	if err != nil {
		response.BadRequest(c, "Invalid booth id")
		return
	}
	jobSeekerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	view, err := h.service.Status(c.Request.Context(), jobSeekerID, boothID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// BoothEntries handles GET /api/queue/booth/:boothId.
func (h *Handler) BoothEntries(c *gin.Context) {
	boothID, err := uuid.Parse(c.Param("boothId"))
	if err != nil {
		response.BadRequest(c, "Invalid booth id")
		return
	}
	entries, err := h.service.BoothEntries(c.Request.Context(), boothID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entries)
}

// Remove handles DELETE /api/queue/entries/:entryId.
func (h *Handler) Remove(c *gin.Context) {
	entryID, err := uuid.Parse(c.Param("entryId"))
	if err != nil {
		response.BadRequest(c, "Invalid entry id")
		return
	}
	entry, err := h.service.Remove(c.Request.Context(), entryID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}

// CleanupOwn handles POST /api/queue/cleanup.
func (h *Handler) CleanupOwn(c *gin.Context) {
	jobSeekerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.service.CleanupOwn(c.Request.Context(), jobSeekerID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"cleaned": true})
}

type sendMessageRequest struct {
	BoothID     string `json:"booth_id"`
	QueueToken  string `json:"queue_token"`
	MessageType string `json:"message_type"`
	Content     string `json:"content" binding:"required"`
}

// SendMessage handles POST /api/queue/messages. Job seekers address
// their entry by queue token.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	msgType := models.MessageType(req.MessageType)
	if msgType == "" {
		msgType = models.MessageText
	}
	boothID, err := uuid.Parse(req.BoothID)
	if err != nil {
		response.BadRequest(c, "Invalid booth_id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	msg, err := h.service.MessageByToken(c.Request.Context(), userID, boothID, req.QueueToken, msgType, req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// RecruiterMessage handles POST /api/queue/entries/:entryId/messages.
func (h *Handler) RecruiterMessage(c *gin.Context) {
	entryID, err := uuid.Parse(c.Param("entryId"))
	if err != nil {
		response.BadRequest(c, "Invalid entry id")
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	msgType := models.MessageType(req.MessageType)
	if msgType == "" {
		msgType = models.MessageText
	}
	msg, err := h.service.AddMessage(c.Request.Context(), entryID, models.DirectionRecruiter, msgType, req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// Messages handles GET /api/queue/entries/:entryId/messages.
func (h *Handler) Messages(c *gin.Context) {
	entryID, err := uuid.Parse(c.Param("entryId"))
	if err != nil {
		response.BadRequest(c, "Invalid entry id")
		return
	}
	role := c.MustGet(middleware.ContextUserRole).(string)
	viewer := models.DirectionJobSeeker
	if role != auth.RoleJobSeeker {
		viewer = models.DirectionRecruiter
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if viewer == models.DirectionJobSeeker {
		entry, err := h.service.Entry(c.Request.Context(), entryID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if entry.JobSeekerID != userID {
			response.Error(c, apperr.Permission("queue entry belongs to another job seeker"))
			return
		}
	}
	msgs, err := h.service.Messages(c.Request.Context(), entryID, viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msgs)
}

// RegisterRoutes wires the queue API under the authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	q := rg.Group("/queue")
	{
		q.POST("/join", middleware.RequireCapability(middleware.OpQueueJoin), h.Join)
		q.POST("/leave", middleware.RequireCapability(middleware.OpQueueLeave), h.Leave)
		q.POST("/leave-with-message", middleware.RequireCapability(middleware.OpQueueLeaveWithMessage), h.LeaveWithMessage)
		q.POST("/cleanup", middleware.RequireCapability(middleware.OpQueueCleanup), h.CleanupOwn)
		q.POST("/messages", middleware.RequireCapability(middleware.OpQueueMessage), h.SendMessage)
		q.GET("/status/:boothId", middleware.RequireCapability(middleware.OpQueueStatus), h.Status)
		q.GET("/booth/:boothId", middleware.RequireCapability(middleware.OpQueueBoothView), h.BoothEntries)
		q.DELETE("/entries/:entryId", middleware.RequireCapability(middleware.OpQueueRemove), h.Remove)
		q.POST("/entries/:entryId/messages", middleware.RequireCapability(middleware.OpQueueMessageToJobSeeker), h.RecruiterMessage)
		q.GET("/entries/:entryId/messages", middleware.RequireCapability(middleware.OpQueueMessages), h.Messages)
	}
}
