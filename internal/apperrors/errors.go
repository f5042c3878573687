package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	TypeHTTP       = "http_error"
	TypeValidation = "validation_error"
)

var (
	ErrConfigInvalid           = errors.New("kubeconfig is invalid")
	ErrConnectFailed           = errors.New("cluster connection failed")
	ErrNoKubeconfig            = errors.New("has no kubeconfig")
	ErrTemplateDirMissing      = errors.New("template directory missing")
	ErrDecommissionUnconfirmed = errors.New("decommission not confirmed")
	ErrCrossProjectReference   = errors.New("reference belongs to another project")
	ErrSecretUnreadable        = errors.New("secret unreadable")
	ErrResourceNotFound        = errors.New("resource not found")
)

// DetailError carries a user-facing detail string while still matching its kind with errors.Is.
type DetailError struct {
	Kind   error
	Detail string
}

func (e *DetailError) Error() string { return e.Detail }

func (e *DetailError) Unwrap() error { return e.Kind }

func WithDetail(kind error, format string, args ...any) error {
	return &DetailError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// ApplyError is a non-conflict API failure returned by the cluster while applying or deleting a document.
type ApplyError struct {
	Status int
	Body   string
}

func (e *ApplyError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("kubernetes api error (%d)", e.Status)
	}
	return e.Body
}

type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type ValidationError struct {
	Items []FieldError
	// Cause optionally names the error kind behind the items.
	Cause error
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		msgs = append(msgs, strings.Join(item.Loc, ".")+": "+item.Msg)
	}
	return strings.Join(msgs, "; ")
}

func Validation(field, msg string) *ValidationError {
	return &ValidationError{Items: []FieldError{{Loc: []string{"body", field}, Msg: msg, Type: "value_error"}}}
}

// HTTPStatus maps an error chain to the response status code.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		apply      *ApplyError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation), errors.As(err, &apply):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTemplateDirMissing), errors.Is(err, ErrSecretUnreadable):
		return http.StatusInternalServerError
	case errors.Is(err, ErrConfigInvalid),
		errors.Is(err, ErrConnectFailed),
		errors.Is(err, ErrNoKubeconfig),
		errors.Is(err, ErrDecommissionUnconfirmed),
		errors.Is(err, ErrCrossProjectReference):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the envelope type and detail payload for err.
func Detail(err error) (string, any) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return TypeValidation, validation.Items
	}
	return TypeHTTP, err.Error()
}

// AsDeployFailure reshapes an error raised while deploying from a record hook so that it surfaces as a
// validation failure, keeping the server-side kinds intact.
func AsDeployFailure(err error) error {
	if err == nil {
		return nil
	}
	if HTTPStatus(err) != http.StatusInternalServerError || errors.Is(err, ErrTemplateDirMissing) || errors.Is(err, ErrSecretUnreadable) {
		return err
	}
	return Validation("active", err.Error())
}
