package middleware

import (
	"github.com/ctech/ctech-exam/internal/response"
	"github.com/ctech/ctech-exam/internal/service"
)

// checkTokenType reports whether the claims carry one of the allowed types and,
// if not, the error code naming the role the route is restricted to.
func checkTokenType(claims *service.Claims, allowed []service.TokenType) (response.ErrCode, bool) {
	for _, t := range allowed {
		if claims.TokenType == t {
			return "", true
		}
	}

	if len(allowed) == 1 {
		switch allowed[0] {
		case service.TokenTypeStudent:
			return response.ErrStudentAccessOnly, false
		case service.TokenTypeTeacher:
			return response.ErrTeacherAccessOnly, false
		}
	}
	return response.ErrForbidden, false
}
