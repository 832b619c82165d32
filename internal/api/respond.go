package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"reserva/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorBody{Error: message})
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindConflict, domain.KindCapacity, domain.KindLedgerState, domain.KindConcurrentModification:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders typed errors with their kind; anything else is logged and hidden.
func writeDomainError(w http.ResponseWriter, logger *zerolog.Logger, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, statusFor(de.Kind), errorBody{Error: string(de.Kind), Message: de.Message, Fields: de.Fields})
}

// requestValidator wraps go-playground/validator and reports fields by their JSON names.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (v *requestValidator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Invalid("%v", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			fields[field] = "required"
		case "required_without":
			fields[field] = "required when " + e.Param() + " is empty"
		case "email":
			fields[field] = "must be a valid email address"
		case "gte":
			fields[field] = "must be greater than or equal to " + e.Param()
		case "gtfield":
			fields[field] = "must be after " + strings.ToLower(e.Param())
		case "oneof":
			fields[field] = "must be one of " + e.Param()
		case "min":
			fields[field] = "must have at least " + e.Param() + " entries"
		default:
			fields[field] = "is invalid"
		}
	}
	return domain.InvalidFields(fields)
}

// decode reads a JSON body and validates it.
func (s *HTTPServer) decode(r *http.Request, dst any) error {
	return s.decodeBody(r, dst, false)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (s *HTTPServer) decodeOptional(r *http.Request, dst any) error {
	return s.decodeBody(r, dst, true)
}

func (s *HTTPServer) decodeBody(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Invalid("invalid JSON body: %v", err)
	}
	return s.validator.Struct(dst)
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.InvalidFields(map[string]string{name: "must be an RFC3339 timestamp"})
	}
	return t, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.InvalidFields(map[string]string{name: "must be an integer"})
	}
	return n, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
