package models

import (
	"encoding/json"
	"net/http"
)

// WriteProblem — единый формат ошибок API (problem+json).
// meta попадает в тело как дополнительные поля.
func WriteProblem(w http.ResponseWriter, status int, title, detail string, meta map[string]string) {
	w.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
	w.WriteHeader(status)
	body := map[string]any{
		"status": status,
		"title":  title,
		"detail": detail,
	}
	for k, v := range meta {
		body[k] = v
	}
	_ = json.NewEncoder(w).Encode(body)
}
