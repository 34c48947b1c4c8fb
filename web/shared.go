package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/RezaEskandarii/taskrelay/custom_errors"
	"github.com/RezaEskandarii/taskrelay/internal/constants"
)

type errorResponse struct {
	Error  string                     `json:"error"`
	Fields []custom_errors.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeValidationError(w http.ResponseWriter, verr *custom_errors.ValidationError) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid input", Fields: verr.Fields()})
}

func getPageNumber(r *http.Request) int {
	page := r.URL.Query().Get("page")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		pageNumber = 1
	}
	return int(pageNumber)
}

func getPageSize(r *http.Request) int {
	size, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	switch {
	case err != nil || size < 1:
		return constants.DefaultPageSize
	case size > constants.MaxPageSize:
		return constants.MaxPageSize
	}
	return size
}
