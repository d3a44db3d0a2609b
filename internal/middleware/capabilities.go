package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/talenthall/backend/internal/auth"
	"github.com/talenthall/backend/pkg/response"
)

// Operation names used as keys into the capability table. Route
// handlers are gated by operation, never by ad-hoc role checks.
const (
	OpQueueJoin               = "queue.join"
	OpQueueLeave              = "queue.leave"
	OpQueueLeaveWithMessage   = "queue.leave_with_message"
	OpQueueStatus             = "queue.status"
	OpQueueCleanup            = "queue.cleanup"
	OpQueueMessage            = "queue.message"
	OpQueueMessages           = "queue.messages"
	OpQueueBoothView          = "queue.booth_view"
	OpQueueMessageToJobSeeker = "queue.message_to_jobseeker"
	OpQueueInvite             = "queue.invite"
	OpQueueRemove             = "queue.remove"
	OpBoothAssign             = "booth.assign"
	OpMeetingView             = "meeting.view"
	OpMeetingStartCall        = "meeting.start_call"
	OpMeetingEndCall          = "meeting.end_call"
	OpInterpreterRequest      = "meeting.interpreter_request"
	OpInterpreterAccept       = "meeting.interpreter_accept"
	OpInterpreterJoin         = "meeting.interpreter_join"
	OpMeetingMessage          = "meeting.message"
	OpMeetingAttachment       = "meeting.attachment"
	OpMeetingFeedback         = "meeting.feedback"
	OpMeetingRating           = "meeting.rating"
	OpCallToken               = "call.token"
)

var recruiterClass = []string{auth.RoleAdmin, auth.RoleRecruiter, auth.RoleGlobalSupport}
var interpreterClass = []string{auth.RoleInterpreter, auth.RoleGlobalInterpreter}
var anyAuthenticated = []string{
	auth.RoleJobSeeker, auth.RoleRecruiter, auth.RoleAdmin,
	auth.RoleGlobalSupport, auth.RoleInterpreter, auth.RoleGlobalInterpreter,
}

// capabilities maps each operation to the role set allowed to perform
// it. A single table instead of per-route role checks keeps the policy
// reviewable in one place.
var capabilities = map[string][]string{
	OpQueueJoin:               {auth.RoleJobSeeker},
	OpQueueLeave:              {auth.RoleJobSeeker},
	OpQueueLeaveWithMessage:   {auth.RoleJobSeeker},
	OpQueueStatus:             {auth.RoleJobSeeker},
	OpQueueCleanup:            {auth.RoleJobSeeker},
	OpQueueMessage:            {auth.RoleJobSeeker},
	OpQueueMessages:           anyAuthenticated,
	OpQueueBoothView:          recruiterClass,
	OpQueueMessageToJobSeeker: recruiterClass,
	OpQueueInvite:             recruiterClass,
	OpQueueRemove:             recruiterClass,
	OpBoothAssign:             recruiterClass,
	OpMeetingView:             anyAuthenticated,
	OpMeetingStartCall:        recruiterClass,
	OpMeetingEndCall:          recruiterClass,
	OpInterpreterRequest:      recruiterClass,
	OpInterpreterAccept:       interpreterClass,
	OpInterpreterJoin:         interpreterClass,
	OpMeetingMessage:          anyAuthenticated,
	OpMeetingAttachment:       anyAuthenticated,
	OpMeetingFeedback:         {auth.RoleJobSeeker},
	OpMeetingRating:           recruiterClass,
	OpCallToken:               anyAuthenticated,
}

// Allowed reports whether the role may perform the operation.
func Allowed(op, role string) bool {
	roles, ok := capabilities[op]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequireCapability returns a middleware enforcing the capability table
// for the given operation.
func RequireCapability(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		if !Allowed(op, role) {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
