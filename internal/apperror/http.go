package apperror

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// envelope is the wire shape every error response renders to.
type envelope struct {
	Error struct {
		Code            Code   `json:"code"`
		Message         string `json:"message"`
		Detail          string `json:"detail,omitempty"`
		Recoverable     bool   `json:"recoverable"`
		SuggestedAction string `json:"suggestedAction,omitempty"`
	} `json:"error"`
}

// WriteError renders err as a JSON error envelope, logging it at the
// severity its taxonomy code implies. includeDetail gates whether the
// internal detail field is sent to the client (enable only in development).
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, includeDetail bool) {
	appErr, ok := As(err)
	if !ok {
		appErr = Internal(err)
	}

	if logger != nil {
		logger.Log(r.Context(), appErr.LogLevel(), "request failed",
			"code", appErr.Code,
			"status", appErr.Status(),
			"path", r.URL.Path,
			"error", appErr.Error(),
		)
	}

	var resp envelope
	resp.Error.Code = appErr.Code
	resp.Error.Message = appErr.Message
	resp.Error.Recoverable = appErr.Recoverable
	resp.Error.SuggestedAction = appErr.SuggestedAction
	if includeDetail {
		resp.Error.Detail = appErr.Detail
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.Status())
	_ = json.NewEncoder(w).Encode(resp)
}

// DecodeJSON decodes a JSON request body into dst, translating malformed or
// oversized payloads into a client-safe *Error instead of a raw decode
// error.
func DecodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return InvalidInput("request body is required")
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return PayloadTooLarge("request body exceeds the allowed size")
		}
		return Wrap(CodeInvalidInput, "request body is malformed", err)
	}
	return nil
}

// WriteJSON renders v as a successful JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
