// Package api is the HTTP surface of mindia (spec §6): a chi router
// exposing the media catalog, ingest, search, folder, webhook, plugin, and
// workflow operations over REST, grounded on wisbric-nightowl's
// chi+middleware+respond shape (internal/httpserver/server.go) and on the
// teacher's json_helpers.go for the error envelope and decode-validation
// idiom.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"mindia/internal/apperror"
)

const maxJSONBodyBytes = 1 << 20

// Respond writes data as a JSON response with the given status.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// errorEnvelope is the error response shape of spec §6.
type errorEnvelope struct {
	Error           string `json:"error"`
	Details         string `json:"details,omitempty"`
	ErrorType       string `json:"error_type,omitempty"`
	Code            string `json:"code"`
	Recoverable     bool   `json:"recoverable"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// RespondError writes err as the structured envelope of spec §6, mapping
// its apperror taxonomy code to an HTTP status. devMode controls whether
// Details/ErrorType are included, since production suppresses them for
// sensitive kinds.
func RespondError(w http.ResponseWriter, err error, devMode bool) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal(err)
	}
	env := errorEnvelope{
		Error:           appErr.Message,
		Code:            string(appErr.Code),
		Recoverable:     appErr.Recoverable,
		SuggestedAction: appErr.SuggestedAction,
	}
	if devMode {
		env.Details = appErr.Detail
		env.ErrorType = string(appErr.Code)
	}
	Respond(w, appErr.Status(), env)
}

// DecodeJSON parses the request body into dest, rejecting unknown fields
// and bounding the body to maxJSONBodyBytes, the same two guarantees the
// teacher's decodeJSON enforces.
func DecodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return apperror.InvalidInput("request body is required")
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes+1))
	if err != nil {
		return apperror.InvalidInput("unable to read request body").WithDetail(err.Error())
	}
	if len(body) == 0 {
		return apperror.InvalidInput("request body is required")
	}
	if len(body) > maxJSONBodyBytes {
		return apperror.PayloadTooLarge("request body exceeds the maximum allowed size")
	}

	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return classifyDecodeError(err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return apperror.InvalidInput("request body must contain a single JSON value")
	}
	return nil
}

func classifyDecodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return apperror.InvalidInput("malformed JSON").WithDetail(err.Error())
	case errors.Is(err, io.ErrUnexpectedEOF):
		return apperror.InvalidInput("malformed JSON").WithDetail(err.Error())
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			return apperror.InvalidInput("invalid value for " + typeErr.Field)
		}
		return apperror.InvalidInput("invalid value in request body")
	case errors.Is(err, io.EOF):
		return apperror.InvalidInput("request body cannot be empty")
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return apperror.InvalidInput("unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field "))
	default:
		return apperror.InvalidInput("invalid JSON payload").WithDetail(err.Error())
	}
}
