package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var errInvalidCredentials = errors.New("invalid email or password")

func newRefreshToken() (plain, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plain = hex.EncodeToString(buf)
	return plain, hashRefreshToken(plain), nil
}

func hashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		FullName     string `json:"full_name"`
		BusinessName string `json:"business_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, errors.New("valid email is required"))
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, errors.New("password must be at least 8 characters"))
		return
	}
	if req.FullName == "" {
		respondError(w, http.StatusBadRequest, errors.New("full name is required"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	accountID := uuid.New()
	account := accountModel{ID: accountID, Email: req.Email, PasswordHash: string(hash)}
	profile := profileModel{
		ID:           accountID,
		FullName:     req.FullName,
		Email:        req.Email,
		BusinessName: req.BusinessName,
		Role:         "user",
	}

	err = a.store.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&account).Error; err != nil {
			return err
		}
		return tx.Create(&profile).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			respondError(w, http.StatusConflict, errors.New("email already registered"))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.publishJSON(memberJoinedTopic, map[string]any{
		"account_id": accountID.String(),
		"full_name":  req.FullName,
		"email":      req.Email,
	})
	a.metrics.registrations.Inc()

	respondJSON(w, http.StatusCreated, map[string]any{"id": accountID.String()})
}

func (a *API) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	orm := a.store.ORM.WithContext(ctx)

	var account accountModel
	err := orm.Where("email = ?", req.Email).First(&account).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		a.metrics.authFailures.Inc()
		respondError(w, http.StatusUnauthorized, errInvalidCredentials)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		a.metrics.authFailures.Inc()
		respondError(w, http.StatusUnauthorized, errInvalidCredentials)
		return
	}

	var profile profileModel
	if err := orm.Where("id = ?", account.ID).First(&profile).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	access, err := a.tokens.issue(account.ID.String(), account.Email, profile.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	plain, hash, err := newRefreshToken()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	session := refreshSessionModel{
		ID:        uuid.New(),
		AccountID: account.ID,
		Token:     hash,
		ExpiresAt: time.Now().Add(a.config.RefreshTokenTTL),
	}
	if err := orm.Create(&session).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": plain,
	})
}

// handleRefreshToken rotates a refresh token pair. The presented token is
// revoked whether or not rotation succeeds past that point, so a stolen
// token can be replayed at most once.
func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	orm := a.store.ORM.WithContext(ctx)

	var session refreshSessionModel
	err := orm.Where("token = ?", hashRefreshToken(req.RefreshToken)).First(&session).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusUnauthorized, errors.New("refresh token not recognised"))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if session.RevokedAt != nil || time.Now().After(session.ExpiresAt) {
		respondError(w, http.StatusUnauthorized, errors.New("refresh token revoked or expired"))
		return
	}

	now := time.Now()
	if err := orm.Model(&session).Update("revoked_at", &now).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	var account accountModel
	if err := orm.Where("id = ?", session.AccountID).First(&account).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	var profile profileModel
	if err := orm.Where("id = ?", account.ID).First(&profile).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	access, err := a.tokens.issue(account.ID.String(), account.Email, profile.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	plain, hash, err := newRefreshToken()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	next := refreshSessionModel{
		ID:        uuid.New(),
		AccountID: account.ID,
		Token:     hash,
		ExpiresAt: time.Now().Add(a.config.RefreshTokenTTL),
	}
	if err := orm.Create(&next).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": plain,
	})
}

// handleSignOut revokes the presented refresh token. Unknown tokens succeed:
// the caller's goal state, no live session, already holds.
func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	now := time.Now()
	err := a.store.ORM.WithContext(ctx).
		Model(&refreshSessionModel{}).
		Where("token = ? AND revoked_at IS NULL", hashRefreshToken(req.RefreshToken)).
		Update("revoked_at", &now).Error
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"signed_out": true})
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
