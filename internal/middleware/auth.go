package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"docuflow/internal/apperror"
	"docuflow/internal/model"
	"docuflow/internal/repository"
	"docuflow/internal/service"
	"docuflow/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Context keys set by Authenticate.
const (
	ContextUserID   = "userID"
	ContextUserRole = "userRole"
	ContextUser     = "user"
)

// Auth verifies access tokens and manages the auth cookies.
type Auth struct {
	tokens     *service.TokenIssuer
	users      repository.UserRepository
	refreshTTL time.Duration
	secure     bool
}

// NewAuth builds the middleware. secure switches cookies to SameSite=None; Secure.
func NewAuth(tokens *service.TokenIssuer, users repository.UserRepository, refreshTTL time.Duration, secure bool) *Auth {
	return &Auth{tokens: tokens, users: users, refreshTTL: refreshTTL, secure: secure}
}

func abort(c *gin.Context, err error) {
	status := apperror.HTTPStatus(err)
	c.AbortWithStatusJSON(status, response.Error(status, apperror.MessageOf(err)))
}

// tokenFromRequest tries the access_token cookie first, then the Authorization header.
func tokenFromRequest(c *gin.Context) (string, error) {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token, nil
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", apperror.Unauthorized("Token no proporcionado.")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", apperror.Unauthorized("Formato de autorización inválido. Se espera 'Bearer <token>'")
	}
	return parts[1], nil
}

// Verify resolves a raw token to its active user.
func (a *Auth) Verify(ctx context.Context, tokenString string) (*model.User, error) {
	claims, err := a.tokens.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	userID, _ := claims.UserID()

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.Unauthorized("Usuario no encontrado.")
		}
		return nil, apperror.Storage("load user", err)
	}
	if !user.IsActive {
		return nil, apperror.Forbidden("Usuario desactivado. Contacte al administrador.")
	}
	return user, nil
}

// Authenticate requires a valid token of an active user and stores the user in the context.
func (a *Auth) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := tokenFromRequest(c)
		if err != nil {
			abort(c, err)
			return
		}
		user, err := a.Verify(c.Request.Context(), tokenString)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID.String())
		c.Set(ContextUserRole, string(user.Role))
		c.Next()
	}
}

// RequireRole must run after Authenticate. Admin passes only when listed.
func RequireRole(allowedRoles ...model.Role) gin.HandlerFunc {
	allowed := model.NewRoleSet(allowedRoles...)
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abort(c, apperror.Unauthorized("Token no proporcionado."))
			return
		}
		if !allowed.Contains(user.Role) {
			abort(c, apperror.Forbidden("No tienes permisos para realizar esta acción."))
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user stored by Authenticate.
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok && user != nil
}

func (a *Auth) cookieMode(c *gin.Context) bool {
	// Production (cross-origin): SameSiteNoneMode + Secure=true
	// Development (same-site):   SameSiteLaxMode  + Secure=false
	if a.secure {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	return a.secure
}

// SetTokenCookies sets access_token and refresh_token as HttpOnly cookies
func (a *Auth) SetTokenCookies(c *gin.Context, accessToken, refreshToken string) {
	secure := a.cookieMode(c)
	c.SetCookie("access_token", accessToken, int(a.tokens.TTL().Seconds()), "/", "", secure, true)
	c.SetCookie("refresh_token", refreshToken, int(a.refreshTTL.Seconds()), "/", "", secure, true)
}

// ClearTokenCookies removes access_token and refresh_token cookies
func (a *Auth) ClearTokenCookies(c *gin.Context) {
	secure := a.cookieMode(c)
	c.SetCookie("access_token", "", -1, "/", "", secure, true)
	c.SetCookie("refresh_token", "", -1, "/", "", secure, true)
}
