package handler

import (
	"reflect"
	"strings"

	"github.com/iliyamo/session-auth/internal/model"
	"github.com/iliyamo/session-auth/internal/service"
)

// registerReq is the public sign-up body. It has no role: self-registered
// accounts are always plain users.
type registerReq struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// createUserReq is the admin-only variant that may pick a role.
type createUserReq struct {
	registerReq
	Role string `json:"role" validate:"omitempty,oneof=user admin moderator vendor"`
}

type credentialsReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// loginResp flattens the token pair next to the user.
type loginResp struct {
	service.TokenPair
	User model.PublicUser `json:"user"`
}

type messageResp struct {
	Message string `json:"message"`
}

// jsonName reports struct fields by their json tag in validation messages.
func jsonName(f reflect.StructField) string {
	for _, tag := range []string{"json", "query"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}
