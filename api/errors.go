package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/points"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    string              `json:"code,omitempty"`
	Details any                 `json:"details,omitempty"`
	Fields  []points.FieldError `json:"fields,omitempty"`

	// Set for insufficient_points so clients can say "need 250, have 50".
	Required  *int64 `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeFailure maps an engine error to its status code and body. Anything
// unrecognized is logged and reported as a 500 without internals.
func writeFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := ErrorResponse{Error: message, Code: ledger.Code(err)}

	var (
		verr *points.ValidationError
		ipe  *ledger.InsufficientPointsError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Code = "invalid_points_config"
		resp.Fields = verr.Fields
	case errors.As(err, &ipe):
		status = http.StatusBadRequest
		resp.Required = &ipe.Required
		resp.Available = &ipe.Available
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		status = http.StatusConflict
	case ledger.IsClientError(err):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error(message, zap.Error(err))
		resp.Code = ""
		if errors.Is(err, ledger.ErrCodeGenerationExhausted) {
			resp.Code = ledger.Code(err)
		}
		writeJSON(w, status, resp)
		return
	}

	resp.Details = err.Error()
	writeJSON(w, status, resp)
}

// writeInvalid reports a request body that failed decoding or struct
// validation.
func writeInvalid(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: "Invalid request body", Code: ledger.Code(ledger.ErrValidation)}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			resp.Fields = append(resp.Fields, points.FieldError{
				Field:   fe.Field(),
				Message: "failed " + fe.Tag() + " validation",
			})
		}
	} else {
		resp.Details = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}
