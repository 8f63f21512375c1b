package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/apierror"
	"github.com/opensafely-core/airlock/internal/domain"
)

// principalKey is the gin context key the principal middleware stores the
// resolved domain.Principal under.
const principalKey = "airlock.principal"

// principalMiddleware reads the already-authenticated caller identity off
// two trusted headers. Authentication itself — how a username and its role
// set are established upstream — is out of scope (spec §1); this package
// only trusts what it is handed.
func principalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetHeader("X-Airlock-Username")
		if username == "" {
			apierror.AbortWithAPIError(c, apierror.NewPermissionDenied("missing X-Airlock-Username"))
			return
		}
		var roles []string
		if raw := c.GetHeader("X-Airlock-Roles"); raw != "" {
			for _, r := range strings.Split(raw, ",") {
				if r = strings.TrimSpace(r); r != "" {
					roles = append(roles, r)
				}
			}
		}
		c.Set(principalKey, domain.Principal{Username: username, Roles: roles})
		c.Next()
	}
}

func principalFrom(c *gin.Context) domain.Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(domain.Principal)
	return p
}
