package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	errs "CProject/tools/errs"
	"CProject/tools/security"
)

// CtxUserID is where the middleware leaves the verified subject.
const CtxUserID = "userID"

type Options struct {
	Secret []byte
}

// Middleware verifies the bearer token and aborts unauthenticated requests.
// Verification happens only here at the boundary; handlers read the user id
// from the context.
func Middleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("missing bearer token"))
			return
		}
		userID, err := security.VerifySubject(security.DefaultOptions(opts.Secret), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail(err.Error()))
			return
		}
		c.Set(CtxUserID, userID)
		c.Next()
	}
}
