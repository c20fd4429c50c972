package middleware

import (
	"github.com/gin-gonic/gin"
)

const (
	UserIDKey   = "user_id"
	UserNameKey = "user_name"

	headerPrincipalID   = "X-MS-CLIENT-PRINCIPAL-ID"
	headerPrincipalName = "X-MS-CLIENT-PRINCIPAL-NAME"
)

// Identity resolves the caller from Azure Easy Auth headers. Local test
// modes pin a fixed identity instead; when no header is present the
// shared local fallback user is used, matching flat-file deployments that
// run without an auth proxy.
func Identity(localTest bool, testClientID, testUsername string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if localTest {
			c.Set(UserIDKey, testClientID)
			c.Set(UserNameKey, testUsername)
			c.Next()
			return
		}
		id := c.GetHeader(headerPrincipalID)
		name := c.GetHeader(headerPrincipalName)
		if id == "" {
			id = "local_user"
			name = "Local User"
		}
		c.Set(UserIDKey, id)
		c.Set(UserNameKey, name)
		c.Next()
	}
}

// UserID returns the resolved caller id for this request.
func UserID(c *gin.Context) string {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

// UserName returns the resolved display name for this request.
func UserName(c *gin.Context) string {
	v, ok := c.Get(UserNameKey)
	if !ok {
		return ""
	}
	name, _ := v.(string)
	return name
}
