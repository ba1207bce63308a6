package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	authCookieName = "auth_token"
	actorHeader    = "X-Actor"
	anonymousActor = "anonymous"
)

// jwtAuthMiddleware puts the caller identity into the request context.
// With authentication disabled the X-Actor header names the caller.
func (a *API) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Auth.Enabled {
			ctx := withAnonymous(r.Context())
			if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
				ctx = WithUsername(r.Context(), actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		var tokenString string
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie(authCookieName); err == nil {
			tokenString = cookie.Value
		}
		if tokenString == "" {
			a.respondError(w, http.StatusUnauthorized, "authorization required", nil)
			return
		}

		claims, err := validateJWT(tokenString, a.config)
		if err != nil {
			a.logger.Warnw("Invalid JWT token",
				"error", sanitizeLogMessage(err.Error()),
				"client_ip", a.clientIP(r))
			a.respondError(w, http.StatusUnauthorized, "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), claims.Username)))
	})
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// login godoc
//
//	@Summary	Exchange credentials for a bearer token
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		credentials	body		loginRequest	true	"Credentials"
//	@Success	200			{object}	loginResponse
//	@Failure	401			{object}	apiError
//	@Failure	429			{object}	apiError
//	@Router		/auth/login [post]
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if !a.config.Auth.Enabled {
		a.respondError(w, http.StatusNotFound, "authentication is disabled", nil)
		return
	}
	ip := a.clientIP(r)
	if a.authLocked(ip) {
		w.Header().Set("Retry-After", "600")
		a.respondError(w, http.StatusTooManyRequests, "too many failed login attempts", nil)
		return
	}

	var req loginRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(a.config.Auth.Username)) == 1
	// always compare the hash so timing does not reveal the username
	passErr := bcrypt.CompareHashAndPassword([]byte(a.config.Auth.HashedPassword), []byte(req.Password))
	if !userOK || passErr != nil {
		a.recordAuthFailure(ip)
		a.logger.Infow("Login failed",
			"username", sanitizeLogMessage(req.Username),
			"client_ip", ip)
		a.respondError(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}
	a.clearAuthFailures(ip)

	token, expiresAt, err := generateJWT(req.Username, a.config, time.Now())
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, "failed to issue token", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.config.API.TLS,
		SameSite: http.SameSiteStrictMode,
	})
	a.logger.Infow("Login succeeded", "username", req.Username, "client_ip", ip)
	a.respondJSON(w, loginResponse{Token: token, ExpiresAt: expiresAt}, http.StatusOK)
}
