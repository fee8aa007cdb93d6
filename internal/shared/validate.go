package shared

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationDetail renders validator errors as a short field: tag list
// suitable for a problem response detail.
func ValidationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
