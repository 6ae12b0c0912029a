package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"docuflow/internal/apperror"
	"docuflow/internal/model"
	"docuflow/internal/repository"
	"docuflow/pkg/logger"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DTOs for Request validation
type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

type UpdateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// LoginRequest accepts a username or an email in Username.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type TokenResponse struct {
	Token        string        `json:"token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID        uuid.UUID  `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Role      model.Role `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

// UserService covers authentication and user administration.
type UserService interface {
	Authenticate(ctx context.Context, identifier, password string) (*model.User, error)
	Authorize(user *model.User, required model.RoleSet) bool

	Login(ctx context.Context, req LoginRequest) (*TokenResponse, error)
	RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error)
	Logout(ctx context.Context, userID uuid.UUID) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*UserResponse, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, req ChangePasswordRequest) error

	CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	ListUsersByRole(ctx context.Context, role string) ([]UserResponse, error)
	UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest) (*UserResponse, error)
	DeleteUser(ctx context.Context, actorID, id uuid.UUID) error

	EnsureAdmin(ctx context.Context, req CreateUserRequest) (bool, error)
}

type userService struct {
	repo       repository.UserRepository
	tokens     *TokenIssuer
	refreshTTL time.Duration
	log        *logger.Logger
}

// NewUserService returns a new instance of UserService
func NewUserService(repo repository.UserRepository, tokens *TokenIssuer, refreshTTL time.Duration, log *logger.Logger) UserService {
	return &userService{repo: repo, tokens: tokens, refreshTTL: refreshTTL, log: log}
}

var (
	errInvalidCredentials = apperror.Unauthorized("Credenciales inválidas.")
	errAccountDisabled    = apperror.Forbidden("Usuario desactivado. Contacte al administrador.")
)

func roleRule(value interface{}) error {
	s, _ := value.(string)
	if !model.Role(s).Valid() {
		return errors.New("Rol inválido.")
	}
	return nil
}

// Helper: parse model to standard json API response
func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		Role:      user.Role,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}

// Authenticate looks the identifier up as a username, then as an email.
// Disabled accounts are refused before the password is checked.
func (s *userService) Authenticate(ctx context.Context, identifier, password string) (*model.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, apperror.Validation("Usuario y contraseña son requeridos.")
	}

	user, err := s.repo.GetByUsername(ctx, identifier)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user, err = s.repo.GetByEmail(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, repoError(err, "")
	}

	if !user.IsActive {
		return nil, errAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return user, nil
}

// Authorize is plain set membership; Admin passes only when listed.
func (s *userService) Authorize(user *model.User, required model.RoleSet) bool {
	return user != nil && required.Contains(user.Role)
}

func (s *userService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	user, err := s.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user)
}

func (s *userService) issueTokens(ctx context.Context, user *model.User) (*TokenResponse, error) {
	access, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return nil, apperror.Storage("failed to generate refresh token", err)
	}
	if err := s.repo.CreateRefreshToken(ctx, &model.RefreshToken{
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: time.Now().Add(s.refreshTTL),
	}); err != nil {
		return nil, repoError(err, "")
	}
	return &TokenResponse{Token: access, RefreshToken: refresh, User: mapToResponse(user)}, nil
}

// RefreshToken rotates a valid refresh token into a new token pair.
func (s *userService) RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error) {
	stored, err := s.repo.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.Unauthorized("Refresh token inválido o expirado")
		}
		return nil, repoError(err, "")
	}

	user, err := s.repo.GetByID(ctx, stored.UserID)
	if err != nil {
		return nil, repoError(err, "Usuario no encontrado.")
	}
	if !user.IsActive {
		return nil, errAccountDisabled
	}

	if err := s.repo.DeleteRefreshToken(ctx, stored.Token); err != nil {
		return nil, repoError(err, "")
	}
	return s.issueTokens(ctx, user)
}

func (s *userService) Logout(ctx context.Context, userID uuid.UUID) error {
	return repoError(s.repo.DeleteRefreshTokensByUser(ctx, userID), "")
}

func (s *userService) GetProfile(ctx context.Context, userID uuid.UUID) (*UserResponse, error) {
	return s.GetUserByID(ctx, userID)
}

func (s *userService) ChangePassword(ctx context.Context, userID uuid.UUID, req ChangePasswordRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.CurrentPassword, validation.Required.Error("Ambas contraseñas son requeridas.")),
		validation.Field(&req.NewPassword, validation.Required.Error("Ambas contraseñas son requeridas."), validation.RuneLength(6, 0)),
	); err != nil {
		return invalid(err)
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return repoError(err, "Usuario no encontrado.")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		return apperror.Unauthorized("Contraseña actual incorrecta.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return apperror.Storage("failed to hash password", err)
	}
	return repoError(s.repo.UpdatePassword(ctx, userID, string(hash)), "Usuario no encontrado.")
}

func (s *userService) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)

	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Username, validation.Required.Error("Todos los campos son requeridos.")),
		validation.Field(&req.Email, validation.Required.Error("Todos los campos son requeridos."), is.EmailFormat),
		validation.Field(&req.Password, validation.Required.Error("Todos los campos son requeridos."), validation.RuneLength(6, 0)),
		validation.Field(&req.FullName, validation.Required.Error("Todos los campos son requeridos.")),
		validation.Field(&req.Role, validation.Required.Error("Todos los campos son requeridos."), validation.By(roleRule)),
	); err != nil {
		return nil, invalid(err)
	}

	if err := s.checkUnique(ctx, uuid.Nil, req.Username, req.Email); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.Storage("failed to hash password", err)
	}

	user := &model.User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashedPassword),
		FullName: req.FullName,
		Role:     model.Role(req.Role),
		IsActive: true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, repoError(err, "")
	}
	return mapToResponse(user), nil
}

// checkUnique refuses a username or email already held by another user.
func (s *userService) checkUnique(ctx context.Context, self uuid.UUID, username, email string) error {
	if username != "" {
		if other, err := s.repo.GetByUsername(ctx, username); err == nil && other.ID != self {
			return apperror.Conflict("El nombre de usuario ya existe.")
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return repoError(err, "")
		}
	}
	if email != "" {
		if other, err := s.repo.GetByEmail(ctx, email); err == nil && other.ID != self {
			return apperror.Conflict("El email ya está registrado.")
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return repoError(err, "")
		}
	}
	return nil
}

func (s *userService) GetUserByID(ctx context.Context, id uuid.UUID) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "Usuario no encontrado.")
	}
	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	users, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, repoError(err, "")
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}
	return responses, total, nil
}

func (s *userService) ListUsersByRole(ctx context.Context, role string) ([]UserResponse, error) {
	if err := roleRule(role); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	users, err := s.repo.ListActiveByRoles(ctx, model.Role(role))
	if err != nil {
		return nil, repoError(err, "")
	}
	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}
	return responses, nil
}

// UpdateUser applies only the fields present in req.
func (s *userService) UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "Usuario no encontrado.")
	}

	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Username, validation.NilOrNotEmpty),
		validation.Field(&req.Email, validation.NilOrNotEmpty, is.EmailFormat),
		validation.Field(&req.FullName, validation.NilOrNotEmpty),
		validation.Field(&req.Role, validation.NilOrNotEmpty, validation.By(func(v interface{}) error {
			if r, ok := v.(*string); ok && r != nil {
				return roleRule(*r)
			}
			return nil
		})),
	); err != nil {
		return nil, invalid(err)
	}

	var newUsername, newEmail string
	if req.Username != nil && *req.Username != user.Username {
		newUsername = strings.TrimSpace(*req.Username)
	}
	if req.Email != nil && *req.Email != user.Email {
		newEmail = strings.TrimSpace(*req.Email)
	}
	if err := s.checkUnique(ctx, user.ID, newUsername, newEmail); err != nil {
		return nil, err
	}

	if newUsername != "" {
		user.Username = newUsername
	}
	if newEmail != "" {
		user.Email = newEmail
	}
	if req.FullName != nil {
		user.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Role != nil {
		user.Role = model.Role(*req.Role)
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, repoError(err, "Usuario no encontrado.")
	}
	return mapToResponse(user), nil
}

// DeleteUser deactivates the account. An admin cannot remove themself.
func (s *userService) DeleteUser(ctx context.Context, actorID, id uuid.UUID) error {
	if actorID == id {
		return apperror.Validation("No puedes eliminar tu propio usuario.")
	}
	ok, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return repoError(err, "Usuario no encontrado.")
	}
	if !ok {
		return apperror.NotFound("Usuario no encontrado.")
	}
	if err := s.repo.DeleteRefreshTokensByUser(ctx, id); err != nil {
		s.log.Warn("failed to revoke refresh tokens of deactivated user", "user_id", id, "error", err)
	}
	return nil
}

// EnsureAdmin seeds the first Admin account. It does nothing once any Admin exists.
func (s *userService) EnsureAdmin(ctx context.Context, req CreateUserRequest) (bool, error) {
	count, err := s.repo.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return false, repoError(err, "")
	}
	if count > 0 {
		return false, nil
	}
	req.Role = string(model.RoleAdmin)
	if _, err := s.CreateUser(ctx, req); err != nil {
		return false, err
	}
	return true, nil
}
