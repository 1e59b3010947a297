package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"ossgate/internal/auth"
	"ossgate/internal/errs"

	"github.com/gin-gonic/gin"
)

// Envelope wraps every JSON response. Code always equals the HTTP status.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Envelope{
		Code:    http.StatusOK,
		Message: message,
		Data:    data,
	})
}

func respondError(c *gin.Context, err error) {
	respondErrorWithData(c, err, nil)
}

// respondErrorWithData reports err and still hands back data, for bulk
// operations that partly succeeded.
func respondErrorWithData(c *gin.Context, err error, data any) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		attrs := []any{"path", c.Request.URL.Path, "error", err}
		if user := auth.UserFromContext(c.Request.Context()); user != nil {
			attrs = append(attrs, "user_id", user.ID)
		}
		slog.Error("Request failed", attrs...)
	}

	c.AbortWithStatusJSON(status, Envelope{
		Code:    status,
		Message: errs.ClientMessage(err),
		Data:    data,
	})
}

// writeEnvelope is used outside the router, where no gin.Context exists.
func writeEnvelope(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Code: status, Message: message})
}
