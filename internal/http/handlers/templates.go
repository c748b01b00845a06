package handlers

import (
	"net/http"
	"strconv"

	"studio/internal/sqlinline"
)

func (a *App) ListTemplates(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	rows, err := a.SQL.Query(r.Context(), sqlinline.QListTemplates, limit, offset)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load templates")
		return
	}
	defer rows.Close()
	var items []map[string]any
	for rows.Next() {
		var id, title, imageURL, accessLevel string
		var ordering int
		if err := rows.Scan(&id, &title, &imageURL, &accessLevel, &ordering); err != nil {
			continue
		}
		items = append(items, map[string]any{
			"id":           id,
			"title":        title,
			"image_url":    imageURL,
			"access_level": accessLevel,
			"ordering":     ordering,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
