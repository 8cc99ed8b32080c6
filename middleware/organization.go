package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"material-indexing-platform/utils"
)

// Identity headers are set by the gateway after it authenticates the caller
const (
	OrganizationHeader = "X-Organization-ID"
	UserHeader         = "X-User-ID"
)

const (
	organizationKey = "organization_id"
	userKey         = "user_id"
)

// RequireOrganization rejects requests without a valid organization id and
// stores it (and the optional user id) in the context
func RequireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(OrganizationHeader)
		if raw == "" {
			utils.RespondWithError(c, http.StatusUnauthorized, "unauthorized", "Organization header is required", nil)
			return
		}
		orgID, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid organization id", gin.H{"header": OrganizationHeader})
			return
		}
		c.Set(organizationKey, orgID)

		if rawUser := c.GetHeader(UserHeader); rawUser != "" {
			userID, err := primitive.ObjectIDFromHex(rawUser)
			if err != nil {
				utils.RespondWithBadRequest(c, "Invalid user id", gin.H{"header": UserHeader})
				return
			}
			c.Set(userKey, userID)
		}

		c.Next()
	}
}

// OrganizationID returns the organization set by RequireOrganization
func OrganizationID(c *gin.Context) (primitive.ObjectID, bool) {
	v, ok := c.Get(organizationKey)
	if !ok {
		return primitive.NilObjectID, false
	}
	id, ok := v.(primitive.ObjectID)
	return id, ok
}

// UserID returns the caller's user id, or NilObjectID when the gateway sent none
func UserID(c *gin.Context) primitive.ObjectID {
	if v, ok := c.Get(userKey); ok {
		if id, ok := v.(primitive.ObjectID); ok {
			return id
		}
	}
	return primitive.NilObjectID
}
