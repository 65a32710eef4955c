package realtime

import (
	"fmt"
	"html"
	"reflect"

	v1 "nightline/contracts/v1"

	"github.com/go-playground/validator/v10"
)

var schemaValidator = validator.New()

// ValidationError names the field and constraint that failed, matching
// the dispatcher's contract of failing on the first schema violation.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("field %q failed constraint %q", e.Field, e.Constraint)
}

func firstValidationError(err error) error {
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return ValidationError{Field: "unknown", Constraint: "invalid"}
	}
	fe := verrs[0]
	return ValidationError{Field: fe.Field(), Constraint: fe.Tag()}
}

// sanitizeStrings HTML-escapes every string field reachable from v,
// in place, matching Go's standard "&, <, >, \", '" escape set.
// Unexported or non-string leaves are left untouched.
func sanitizeStrings(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	sanitizeValue(rv.Elem())
}

func sanitizeValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(html.EscapeString(v.String()))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			sanitizeValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).PkgPath != "" {
				continue // unexported
			}
			sanitizeValue(v.Field(i))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			sanitizeValue(v.Index(i))
		}
	}
}

// ValidateNew validates and sanitizes a {"kind":"new"} payload.
func ValidateNew(p *v1.NewMessagePayload) error {
	if err := schemaValidator.Struct(p); err != nil {
		return firstValidationError(err)
	}
	sanitizeStrings(p)
	return nil
}

// ValidateReply validates and sanitizes a {"kind":"reply"} payload.
func ValidateReply(p *v1.ReplyPayload) error {
	if err := schemaValidator.Struct(p); err != nil {
		return firstValidationError(err)
	}
	sanitizeStrings(p)
	return nil
}

// ValidateStatus validates a {"kind":"status"} payload.
func ValidateStatus(p *v1.StatusPayload) error {
	if err := schemaValidator.Struct(p); err != nil {
		return firstValidationError(err)
	}
	sanitizeStrings(p)
	return nil
}

// ValidateReaction validates a {"kind":"reaction"} payload.
func ValidateReaction(p *v1.ReactionPayload) error {
	if err := schemaValidator.Struct(p); err != nil {
		return firstValidationError(err)
	}
	sanitizeStrings(p)
	return nil
}

// ValidateContentEdit validates a {"kind":"update"} payload.
func ValidateContentEdit(p *v1.ContentEditPayload) error {
	if err := schemaValidator.Struct(p); err != nil {
		return firstValidationError(err)
	}
	sanitizeStrings(p)
	return nil
}

// ValidateRemove validates a {"kind":"remove"} payload.
func ValidateRemove(p *v1.RemovePayload) error {
	if err := schemaValidator.Struct(p); err != nil {
		return firstValidationError(err)
	}
	sanitizeStrings(p)
	return nil
}
