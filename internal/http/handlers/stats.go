package handlers

import (
	"net/http"

	"studio/internal/sqlinline"
)

func (a *App) Stats24h(w http.ResponseWriter, r *http.Request) {
	row := a.SQL.QueryRow(r.Context(), sqlinline.QStats24h)
	var images, videos, succeeded, failed int64
	if err := row.Scan(&images, &videos, &succeeded, &failed); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"images_last_24h": images,
		"videos_last_24h": videos,
		"success_24h":     succeeded,
		"failed_24h":      failed,
	})
}
