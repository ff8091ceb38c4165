package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"posehub.org/internal/auth"
	"posehub.org/internal/signedurl"
)

// ImageSource resolves a resource to its binary content. The HTTP layer only
// streams; authorization happens before Open is called.
type ImageSource interface {
	Open(ctx context.Context, kind string, id int64, version string) (io.ReadCloser, string, error)
}

// DirImages serves images from a local directory laid out as
// <dir>/<kind>/<id>-<version>.png. Development and single-node deployments
// only; production fronts object storage.
type DirImages struct {
	Dir string
}

func (d DirImages) Open(_ context.Context, kind string, id int64, version string) (io.ReadCloser, string, error) {
	name := fmt.Sprintf("%d-%s.png", id, version)
	f, err := os.Open(filepath.Join(d.Dir, filepath.Clean(kind), filepath.Clean(name)))
	if err != nil {
		return nil, "", err
	}
	return f, "image/png", nil
}

func imageParams(r *http.Request) (string, int64, error) {
	kind := r.PathValue("kind")
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 || kind == "" {
		return "", 0, errors.New("invalid image path")
	}
	return kind, id, nil
}

// handleImage serves a resource to holders of a valid signed grant. No
// bearer token is involved; the signature in the query is the credential.
func (a *API) handleImage(w http.ResponseWriter, r *http.Request) {
	kind, id, err := imageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	version, err := a.versions.Version(r.Context(), kind, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	principalID, err := a.signer.Verify(r.URL.Query(), kind, id, version)
	if err != nil {
		switch {
		case errors.Is(err, signedurl.ErrExpired):
			writeError(w, http.StatusForbidden, "link expired")
		case errors.Is(err, signedurl.ErrVersionMismatch):
			writeError(w, http.StatusForbidden, "link outdated")
		default:
			writeError(w, http.StatusForbidden, "forbidden")
		}
		return
	}

	rc, contentType, err := a.images.Open(r.Context(), kind, id, version)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, no-store")
	if _, err := io.Copy(w, rc); err != nil {
		a.log.Warn("image stream interrupted",
			zap.String("kind", kind),
			zap.Int64("id", id),
			zap.Int64("principal", principalID),
			zap.Error(err),
		)
	}
}

// handleImageLink mints a signed URL for the authenticated principal. The
// grant is bound to the resource's current version, so a later regeneration
// invalidates it even before expiry.
func (a *API) handleImageLink(w http.ResponseWriter, r *http.Request) {
	principalID, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	kind, id, err := imageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	version, err := a.versions.Version(r.Context(), kind, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	q, err := a.signer.Sign(kind, id, principalID, version, a.linkTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"url":        fmt.Sprintf("/v1/images/%s/%d?%s", kind, id, q.Encode()),
		"expires_in": int(a.linkTTL.Seconds()),
	})
}
