package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/innercompass/internal/coach"
	"github.com/kalambet/innercompass/internal/conversation"
	"github.com/kalambet/innercompass/internal/identity"
	"github.com/kalambet/innercompass/internal/report"
	"github.com/kalambet/innercompass/internal/session"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorBody struct {
	Message  string `json:"message"`
	Type     string `json:"type"`
	Fallback string `json:"fallback,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
	// View is the state the client should render after the failure.
	View any `json:"view,omitempty"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, errorEnvelope{Error: errorBody{
		Message: fmt.Sprintf(format, args...),
		Type:    errType,
	}})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error onto a status code and envelope. view, when
// non-nil, is returned alongside so the client can keep rendering.
func writeError(w http.ResponseWriter, err error, view any) {
	env := errorEnvelope{View: view}
	code := http.StatusInternalServerError

	var (
		authErr    *identity.AuthError
		storeErr   *session.StoreError
		turnErr    *conversation.TurnError
		summaryErr *conversation.SummaryError
		svcErr     *coach.ServiceError
		valErrs    validator.ValidationErrors
	)
	switch {
	case errors.As(err, &authErr):
		code = authStatus(authErr.Kind)
		env.Error = errorBody{Message: authErr.Message(), Type: "authentication_error"}
	case errors.As(err, &storeErr):
		env.Error = errorBody{Message: "保存或读取进度失败，请稍后再试。", Type: "store_error"}
	case errors.As(err, &turnErr):
		code = http.StatusBadGateway
		env.Error = errorBody{Message: turnErr.Error(), Type: "coach_error", Fallback: turnErr.Fallback}
	case errors.As(err, &summaryErr):
		code = http.StatusBadGateway
		env.Error = errorBody{Message: summaryErr.Error(), Type: "coach_error", Fallback: summaryErr.Fallback}
	case errors.As(err, &svcErr):
		code = http.StatusBadGateway
		env.Error = errorBody{Message: svcErr.Error(), Type: "coach_error", Fallback: report.FallbackText}
	case errors.As(err, &valErrs):
		code = http.StatusBadRequest
		env.Error = errorBody{Message: formatValidationErrors(valErrs), Type: "invalid_request_error"}
	case errors.Is(err, conversation.ErrEmptyInput):
		code = http.StatusBadRequest
		env.Error = errorBody{Message: err.Error(), Type: "invalid_request_error"}
	case errors.Is(err, conversation.ErrInvalidState):
		code = http.StatusConflict
		env.Error = errorBody{Message: err.Error(), Type: "invalid_state"}
	case errors.Is(err, session.ErrUnknownTopic):
		code = http.StatusNotFound
		env.Error = errorBody{Message: err.Error(), Type: "not_found"}
	default:
		env.Error = errorBody{Message: "internal error", Type: "api_error"}
	}

	if code >= 500 {
		slog.Warn("request failed", "status", code, "error", err)
	}
	writeJSON(w, code, env)
}

func authStatus(k identity.Kind) int {
	switch k {
	case identity.KindDuplicateEmail:
		return http.StatusConflict
	case identity.KindWeakPassword, identity.KindInvalidEmail:
		return http.StatusBadRequest
	case identity.KindInvalidCredentials, identity.KindInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

func formatValidationErrors(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}
