package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/observability"
)

func writeJSON(w http.ResponseWriter, status int, body models.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.Warnf("Failed to write response: %v", err)
	}
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, models.Response{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.Response{Success: false, Error: message})
}

// respondModelError maps domain errors to status codes. Anything unknown is a
// generic 500 and the cause is logged, never returned.
func respondModelError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrUnsupportedDataType),
		errors.Is(err, models.ErrEmptyDeviceID),
		errors.Is(err, models.ErrInvalidDeviceID):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrBatchTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, models.ErrDeviceNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrDeviceInactive):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrInvalidDeviceToken):
		respondError(w, http.StatusUnauthorized, err.Error())
	default:
		observability.WithContext(r.Context()).WithField("path", r.URL.Path).Errorf("Request failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads a size-limited JSON body into dst and validates it
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, validate *validator.Validate, dst any) (int, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return http.StatusBadRequest, errors.New("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return http.StatusBadRequest, validationError(err)
	}
	return http.StatusOK, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return fmt.Errorf("%s is required", fe.Field())
	}
	return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
}
