/*
Package resp provides helper functions for constructing, sending and decoding standardized HTTP JSON responses.

It defines a unified JSON response structure, including a business code, message, and optional data.
The relay server writes it through RespondSuccess/RespondError; the client's REST collaborator reads it
back through Decode, which turns a non-zero code into the matching *errs.CustomError.
*/
package resp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
)

// CodeSuccess is the business code of every successful response.
const CodeSuccess = 0

// JSONResponse defines the standardized JSON response structure returned by the application to clients.
type JSONResponse struct {
	// Code is the business status code (0 for success, others for specific errors, see errs package).
	Code int `json:"code"`

	// Message is the client-friendly status description or error message.
	Message string `json:"message"`

	// Data is the optional response payload (e.g., data returned from a successful request).
	Data any `json:"data,omitempty"`
}

// RespondJSON is a generic response function used to set the Content-Type and send the JSON payload.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	response, err := json.Marshal(payload)
	if err != nil {
		logx.Error(
			err,
			"Error encoding JSON response",
			"http_status", httpStatus,
			"path", r.URL.Path,
		)

		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(httpStatus)
	if _, err := w.Write(response); err != nil {
		logx.Warn("Writing JSON response failed", "error", err.Error(), "path", r.URL.Path)
	}
}

// RespondSuccess sends a successful HTTP response (HTTP 200 OK).
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	res := JSONResponse{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	}
	RespondJSON(w, r, http.StatusOK, res)
}

// RespondError sends an HTTP response containing custom error information.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	res := JSONResponse{
		Code:    customErr.Code,
		Message: customErr.Message,
		Data:    nil,
	}
	RespondJSON(w, r, customErr.Status, res)
}

// Decode reads a JSONResponse from body. On success (code 0) the data field is decoded into dst
// when dst is non-nil; otherwise the business error is returned as a *errs.CustomError.
func Decode(body io.Reader, dst any) error {
	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data,omitempty"`
	}

	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response envelope: %w", err)
	}

	if envelope.Code != CodeSuccess {
		return errs.FromResponse(envelope.Code, envelope.Message)
	}

	if dst == nil || len(envelope.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
