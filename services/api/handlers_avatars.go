package api

import (
	"errors"
	"fmt"
	"net/http"
)

var avatarExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// handleAvatarUpload returns a presigned PUT for the caller's avatar object
// plus the public URL to store in the profile afterwards. The key is fixed
// per account, so a re-upload replaces the previous avatar.
func (a *API) handleAvatarUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}
	if a.store.S3 == nil || a.config.AvatarBucket == "" {
		respondError(w, http.StatusServiceUnavailable, errors.New("avatar storage is not configured"))
		return
	}

	var req struct {
		ContentType string `json:"content_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ext, ok := avatarExtensions[req.ContentType]
	if !ok {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported content type %q", req.ContentType))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	key := fmt.Sprintf("avatars/%s.%s", id.UserID, ext)
	uploadURL, err := a.store.S3.PresignPut(ctx, a.config.AvatarBucket, key, req.ContentType, presignURLExpiry)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"upload_url": uploadURL,
		"public_url": a.store.S3.ObjectURL(a.config.AvatarBucket, key),
	})
}
