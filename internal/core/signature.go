package core

import (
	"encoding/json"
	"errors"
	"ossgate/internal/errs"
	"ossgate/internal/policy"
	"strconv"

	"github.com/gin-gonic/gin"
)

var errNoIssuer = errors.New("direct upload is not configured")

func (s *Server) handleGetSignature(c *gin.Context) {
	objectKey := c.Query("objectKey")

	if s.issuer == nil {
		respondError(c, errs.Upstream("issue policy", objectKey, errNoIssuer))
		return
	}

	req := policy.Request{
		ObjectKey:       objectKey,
		UseOriginalName: parseBool(c.Query("originalNameOrNot")),
	}

	if raw := c.Query("expireTime"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, errs.Invalid("issue policy", objectKey, "expireTime must be a number of seconds"))
			return
		}
		req.ExpireSeconds = seconds
	}

	if raw := c.Query("conditions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Conditions); err != nil {
			respondError(c, errs.Invalid("issue policy", objectKey, "conditions must be a JSON array of arrays"))
			return
		}
	}

	signed, err := s.issuer.Issue(req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "ok", signed)
}
