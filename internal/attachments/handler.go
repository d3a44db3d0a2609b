// Package attachments exposes meeting file sharing backed by S3.
package attachments

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talenthall/backend/internal/meetings"
	"github.com/talenthall/backend/internal/middleware"
	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/pkg/response"
	"github.com/talenthall/backend/pkg/storage"
)

type Handler struct {
	meetings *meetings.Service
	repo     *meetings.Repository
	s3       *storage.S3
	logger   *zap.Logger
}

func NewHandler(svc *meetings.Service, repo *meetings.Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{meetings: svc, repo: repo, s3: s3, logger: logger}
}

// Upload handles POST /api/meetings/:meetingId/attachments with a
// multipart "file" field.
func (h *Handler) Upload(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	if _, err := h.meetings.Meeting(c.Request.Context(), meetingID); err != nil {
		response.Error(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "Missing file")
		return
	}
	if fileHeader.Size > storage.MaxAttachmentSize {
		response.BadRequest(c, fmt.Sprintf("File exceeds %d MB limit", storage.MaxAttachmentSize/(1024*1024)))
		return
	}
	if !storage.ValidateAttachmentType(fileHeader.Filename) {
		response.BadRequest(c, "Unsupported file type")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.Internal(c, "Failed to read upload")
		return
	}
	defer src.Close()

	key := storage.AttachmentKey(meetingID.String(), fileHeader.Filename)
	contentType := storage.ContentTypeForFilename(fileHeader.Filename)
	url, err := h.s3.Upload(c.Request.Context(), h.s3.AttachmentsBucket(), key, contentType, src, fileHeader.Size)
	if err != nil {
		h.logger.Error("attachment upload failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "Upload failed")
		return
	}

	uploadedBy := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	att := &models.MeetingAttachment{
		MeetingID:   meetingID,
		UploadedBy:  uploadedBy,
		FileName:    fileHeader.Filename,
		S3Key:       key,
		URL:         url,
		ContentType: contentType,
		SizeBytes:   fileHeader.Size,
	}
	if err := h.repo.AddAttachment(c.Request.Context(), att); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, att)
}

// List handles GET /api/meetings/:meetingId/attachments.
func (h *Handler) List(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "Invalid meeting id")
		return
	}
	list, err := h.repo.ListAttachments(c.Request.Context(), meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Download handles GET /api/attachments/:attachmentId/download,
// returning a short-lived pre-signed URL.
func (h *Handler) Download(c *gin.Context) {
	attachmentID, err := uuid.Parse(c.Param("attachmentId"))
	if err != nil {
		response.BadRequest(c, "Invalid attachment id")
		return
	}
	att, err := h.repo.GetAttachment(c.Request.Context(), attachmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if att == nil {
		response.NotFound(c, "Attachment not found")
		return
	}
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.AttachmentsBucket(), att.S3Key, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign failed", zap.String("key", att.S3Key), zap.Error(err))
		response.Internal(c, "Failed to generate download link")
		return
	}
	response.OK(c, gin.H{"url": url, "file_name": att.FileName})
}

// RegisterRoutes wires the attachments API under the authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/meetings/:meetingId/attachments", middleware.RequireCapability(middleware.OpMeetingAttachment), h.Upload)
	rg.GET("/meetings/:meetingId/attachments", middleware.RequireCapability(middleware.OpMeetingAttachment), h.List)
	rg.GET("/attachments/:attachmentId/download", middleware.RequireCapability(middleware.OpMeetingAttachment), h.Download)
}
