package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateBody checks struct tags on a decoded request and writes a 400 on failure.
func validateBody(w http.ResponseWriter, req any) bool {
	err := validate.Struct(req)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
	}
	writeError(w, http.StatusBadRequest, "validation_failed", strings.Join(details, "; "))
	return false
}
