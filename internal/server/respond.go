package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps err onto an HTTP status using the common error sentinels.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var ae *common.AppError
	if errors.As(err, &ae) {
		body.Code = ae.Code
		body.Error = ae.Message
	}
	writeJSON(w, common.HTTPStatus(err), body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "INVALID_INPUT"})
}
