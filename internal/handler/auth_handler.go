package handler

import (
	"net/http"

	"docuflow/internal/middleware"
	"docuflow/internal/service"
	"docuflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	userService service.UserService
	auth        *middleware.Auth
}

func NewAuthHandler(userService service.UserService, auth *middleware.Auth) *AuthHandler {
	return &AuthHandler{userService: userService, auth: auth}
}

func (h *AuthHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/auth")
	group.POST("/login", h.Login)
	group.POST("/refresh", h.RefreshToken)

	authed := group.Group("", h.auth.Authenticate())
	{
		authed.POST("/logout", h.Logout)
		authed.GET("/profile", h.GetProfile)
		authed.POST("/change-password", h.ChangePassword)
	}
}

// Login handles POST /api/auth/login to authenticate and return a JWT token
// @Summary      Login user
// @Description  Authenticates by username or email and password, returning access and refresh tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.LoginRequest   true  "Login Credentials"
// @Success      200      {object}  response.Response{data=service.TokenResponse}
// @Failure      400      {object}  response.Response
// @Failure      401      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Usuario y contraseña son requeridos.")
		return
	}

	tokenRes, err := h.userService.Login(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	h.auth.SetTokenCookies(c, tokenRes.Token, tokenRes.RefreshToken)
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Login exitoso.", tokenRes))
}

// RefreshToken handles POST /api/auth/refresh to issue new access and refresh tokens
// @Summary      Refresh token
// @Description  Issues a new access token and refresh token using a valid refresh token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RefreshTokenRequest   false  "Refresh Token (cookie takes precedence)"
// @Success      200      {object}  response.Response{data=service.TokenResponse}
// @Failure      400      {object}  response.Response
// @Failure      401      {object}  response.Response
// @Router       /api/auth/refresh [post]
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	// Try reading refresh_token from cookie first, fallback to body
	var req service.RefreshTokenRequest
	if refreshToken, err := c.Cookie("refresh_token"); err == nil && refreshToken != "" {
		req.RefreshToken = refreshToken
	} else if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "refresh_token es requerido")
		return
	}

	tokenRes, err := h.userService.RefreshToken(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	h.auth.SetTokenCookies(c, tokenRes.Token, tokenRes.RefreshToken)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, tokenRes))
}

// Logout handles POST /api/auth/logout, revoking refresh tokens and clearing cookies
// @Summary      Logout
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.userService.Logout(c.Request.Context(), user.ID); err != nil {
		writeError(c, err)
		return
	}
	h.auth.ClearTokenCookies(c)
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Sesión cerrada.", nil))
}

// GetProfile handles GET /api/auth/profile
// @Summary      Get current user
// @Description  Get the currently authenticated user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200      {object}  response.Response{data=service.UserResponse}
// @Failure      401      {object}  response.Response
// @Router       /api/auth/profile [get]
func (h *AuthHandler) GetProfile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	profile, err := h.userService.GetProfile(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, profile))
}

// ChangePassword handles POST /api/auth/change-password
// @Summary      Change password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.ChangePasswordRequest  true  "Current and new password"
// @Success      200      {object}  response.Response
// @Failure      400      {object}  response.Response
// @Failure      401      {object}  response.Response
// @Router       /api/auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Ambas contraseñas son requeridas.")
		return
	}
	if err := h.userService.ChangePassword(c.Request.Context(), user.ID, req); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Contraseña actualizada exitosamente.", nil))
}
