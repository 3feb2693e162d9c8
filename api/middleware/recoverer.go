package middleware

import (
	"fmt"
	"net/http"

	"github.com/rafaelolivas/showbill-backend/api/responses"
	pkgerrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
)

// Recoverer converts handler panics into a generic 500 response.
// http.ErrAbortHandler is re-raised so deliberate aborts keep their meaning.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					err := fmt.Errorf("panic: %v", rec)
					ctx := r.Context()
					if logg != nil {
						ctx = logg.WithFields(ctx, map[string]any{"panic": rec})
						logg.Error(ctx, "panic.recovered", err)
					}
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
