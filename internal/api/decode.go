package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/talgya/agent-economy/internal/errs"
)

const userHeader = "X-User-ID"

const maxBody = 1 << 16

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// decodeBody reads a JSON body into dest and validates it. An empty body
// leaves dest at its zero value when optional is set.
func decodeBody(r *http.Request, dest any, optional bool) error {
	defer io.Copy(io.Discard, r.Body)

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return errs.Wrap(errs.CodeValidation, err, "invalid request body").WithDetail("error", err.Error())
	}
	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Wrap(errs.CodeValidation, err, "validation failed")
	}
	e := errs.New(errs.CodeValidation, "validation failed")
	for _, fe := range fieldErrs {
		e = e.WithDetail(fe.Field(), validationMessage(fe))
	}
	return e
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return "is invalid"
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errs.Validation("%s must be a non-negative integer", name).WithDetail(name, raw)
	}
	return v, nil
}

// queryInt64Ptr parses an optional int64 query parameter, nil when absent.
func queryInt64Ptr(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, errs.Validation("%s must be a non-negative integer", name).WithDetail(name, raw)
	}
	return &v, nil
}

// userID reads the caller's identity from the header, falling back to the
// user_id query parameter.
func userID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(userHeader))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if id == "" {
		return "", errs.Validation("user identity required (%s header or user_id parameter)", userHeader)
	}
	if len(id) > 64 {
		return "", errs.Validation("user id too long")
	}
	return id, nil
}
