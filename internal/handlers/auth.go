package handlers

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/stanstork/aegis-api/internal/authz"
	"github.com/stanstork/aegis-api/internal/config"
	"github.com/stanstork/aegis-api/internal/models"
	"github.com/stanstork/aegis-api/internal/notification"
	"github.com/stanstork/aegis-api/internal/repository"
)

const verificationTTL = 48 * time.Hour

// Every token problem gets the same answer.
const sessionInvalid = "Session invalid or expired"

type AuthHandler struct {
	users         repository.UserRepository
	verifications repository.VerificationRepository
	tenants       repository.TenantRepository
	mailer        notification.VerificationMailer
	validate      *validator.Validate
	jwtSecret     string
	auth          config.AuthConfig
	verifyURL     string
	logger        zerolog.Logger
	now           func() time.Time
}

type signupRequest struct {
	Organization        string `json:"organization_name" validate:"required,max=200"`
	FullName            string `json:"full_name" validate:"required,max=200"`
	Email               string `json:"email" validate:"required,email"`
	Password            string `json:"password" validate:"required,min=8,max=72"`
	AcceptPrivacyPolicy bool   `json:"accept_privacy_policy"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func NewAuthHandler(
	users repository.UserRepository,
	verifications repository.VerificationRepository,
	tenants repository.TenantRepository,
	mailer notification.VerificationMailer,
	cfg *config.Config,
	logger zerolog.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:         users,
		verifications: verifications,
		tenants:       tenants,
		mailer:        mailer,
		validate:      newValidator(),
		jwtSecret:     cfg.JWTSecret,
		auth:          cfg.Auth,
		verifyURL:     cfg.Email.VerifyURLTemplate,
		logger:        logger.With().Str("component", "auth").Logger(),
		now:           time.Now,
	}
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Organization = strings.TrimSpace(req.Organization)
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return
	}
	if !req.AcceptPrivacyPolicy {
		http.Error(w, "Privacy policy acceptance is mandatory", http.StatusBadRequest)
		return
	}

	verified := !h.auth.RequireVerification
	var token, tokenHash string
	if !verified {
		var err error
		token, err = generateVerificationToken()
		if err != nil {
			http.Error(w, "Failed to create account", http.StatusInternalServerError)
			return
		}
		tokenHash = hashVerificationToken(token)
	}

	user, tenant, err := h.users.Register(repository.Registration{
		Organization: req.Organization,
		FullName:     req.FullName,
		Email:        req.Email,
		Password:     req.Password,
		Roles:        []models.UserRole{models.RoleOperator},
		Verified:     verified,
	}, tokenHash, h.now().Add(verificationTTL))
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			http.Error(w, "Account already exists for this email", http.StatusConflict)
			return
		}
		h.logger.Error().Err(err).Msg("Signup failed")
		http.Error(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	if !verified {
		link := fmt.Sprintf(h.verifyURL, token)
		if err := h.mailer.SendVerification(user.Email, user.FullName, tenant.Name, link); err != nil {
			h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to send verification email")
		}
	}

	h.logger.Info().Str("tenant_id", tenant.ID).Str("user_id", user.ID).Bool("verified", verified).Msg("Organisation registered")
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":                  user,
		"tenant":                tenant,
		"verification_required": !verified,
	})
}

// Verify consumes an email verification token from the link sent at signup.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(mux.Vars(r)["token"])
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	v, err := h.verifications.Consume(hashVerificationToken(token), h.now())
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		http.Error(w, "Verification link not found", http.StatusNotFound)
		return
	case errors.Is(err, repository.ErrTokenUsed):
		http.Error(w, "Verification link already used", http.StatusConflict)
		return
	case errors.Is(err, repository.ErrTokenExpired):
		http.Error(w, "Verification link expired", http.StatusGone)
		return
	default:
		h.logger.Error().Err(err).Msg("Verification failed")
		http.Error(w, "Failed to verify account", http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("user_id", v.UserID).Msg("Email verified")
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	user, err := h.users.AuthenticateUser(strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCredentials) {
			http.Error(w, "Invalid email or password", http.StatusUnauthorized)
			return
		}
		h.logger.Error().Err(err).Msg("Login failed")
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}
	if h.auth.RequireVerification && !user.EmailVerified {
		http.Error(w, "Account pending email verification", http.StatusForbidden)
		return
	}

	tenant, err := h.tenants.GetTenantByID(user.TenantID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Tenant lookup failed")
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	rolesClaim := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		rolesClaim = append(rolesClaim, string(role))
	}

	now := h.now()
	expiresAt := now.Add(h.auth.TokenTTL)
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"tid":   user.TenantID,
		"email": user.Email,
		"org":   tenant.Name,
		"role":  string(models.HighestRole(user.Roles)),
		"roles": rolesClaim,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	}
	if h.auth.BindFingerprint {
		claims["fpt"] = clientFingerprint(r)
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.jwtSecret))
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tokenString,
		"token_type": "bearer",
		"expires_at": expiresAt.UTC(),
		"user":       user,
	})
}

func (h *AuthHandler) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reject := func(reason string) {
			h.logger.Debug().Str("reason", reason).Str("path", r.URL.Path).Msg("Request rejected")
			http.Error(w, sessionInvalid, http.StatusUnauthorized)
		}

		auth := r.Header.Get("Authorization")
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			reject("missing bearer token")
			return
		}
		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(h.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			reject("invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !claims.VerifyExpiresAt(h.now().Unix(), true) {
			reject("token expired")
			return
		}
		userRoles, ok := extractRolesFromClaims(claims)
		if !ok {
			reject("missing role claim")
			return
		}
		tenantID, _ := claims["tid"].(string)
		userID, _ := claims["sub"].(string)
		if tenantID == "" || userID == "" {
			reject("missing identity claim")
			return
		}

		fpt, hasFpt := claims["fpt"].(string)
		if h.auth.BindFingerprint && !hasFpt {
			reject("missing fingerprint")
			return
		}
		if hasFpt && subtle.ConstantTimeCompare([]byte(fpt), []byte(clientFingerprint(r))) != 1 {
			reject("fingerprint mismatch")
			return
		}

		email, _ := claims["email"].(string)
		org, _ := claims["org"].(string)
		ctx := authz.WithIdentity(r.Context(), tenantID, userID, userRoles)
		ctx = authz.WithProfile(ctx, authz.Identity{Email: email, Organization: org})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientFingerprint binds a token to the user agent and address it was
// issued to. RemoteAddr is already rewritten by the proxy header middleware.
func clientFingerprint(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	sum := sha256.Sum256([]byte(r.UserAgent() + "|" + host))
	return hex.EncodeToString(sum[:])
}

func extractRolesFromClaims(claims jwt.MapClaims) ([]models.UserRole, bool) {
	rawRoles, ok := claims["roles"]
	if !ok {
		if single, ok := claims["role"].(string); ok && single != "" {
			role := models.UserRole(single)
			if !models.IsValidRole(role) {
				return nil, false
			}
			return []models.UserRole{role}, true
		}
		return nil, false
	}

	var roles []models.UserRole
	switch v := rawRoles.(type) {
	case []interface{}:
		for _, val := range v {
			str, ok := val.(string)
			if !ok {
				return nil, false
			}
			role := models.UserRole(str)
			if !models.IsValidRole(role) {
				return nil, false
			}
			roles = append(roles, role)
		}
	case []string:
		for _, str := range v {
			role := models.UserRole(str)
			if !models.IsValidRole(role) {
				return nil, false
			}
			roles = append(roles, role)
		}
	case string:
		roles = []models.UserRole{models.UserRole(v)}
	default:
		return nil, false
	}

	if !models.IsValidRoleList(roles) {
		return nil, false
	}
	normalized := models.EnsureDefaultRole(models.NormalizeRoles(roles))
	if !models.IsValidRoleList(normalized) {
		return nil, false
	}
	return normalized, true
}

func generateVerificationToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashVerificationToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
