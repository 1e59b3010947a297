package core

import (
	"fmt"
	"io"
	"ossgate/internal/errs"
	"ossgate/internal/multipart"
	"strconv"

	"github.com/gin-gonic/gin"
)

type objectKeyRequest struct {
	ObjectKey string `json:"objectKey"`
}

type initResponse struct {
	UploadID string `json:"uploadId"`
}

type partResponse struct {
	ETag       string `json:"etag"`
	PartNumber int    `json:"partNumber"`
}

// manifestPart accepts both "number" and "partNumber" for the part number.
type manifestPart struct {
	Number     int    `json:"number"`
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type completeRequest struct {
	ObjectKey string         `json:"objectKey"`
	UploadID  string         `json:"uploadId"`
	Parts     []manifestPart `json:"parts"`
}

type abortRequest struct {
	ObjectKey string `json:"objectKey"`
	UploadID  string `json:"uploadId"`
}

type pendingResponse struct {
	Count   int                `json:"count"`
	Uploads []multipart.Upload `json:"uploads"`
}

type abortResponse struct {
	Message string                  `json:"message"`
	Results []multipart.AbortResult `json:"results,omitempty"`
}

func (s *Server) handlePendingMultipart(c *gin.Context) {
	uploads, err := s.multipart.ListUnfinished(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "ok", pendingResponse{Count: len(uploads), Uploads: uploads})
}

func (s *Server) handleMultipartInit(c *gin.Context) {
	var req objectKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("initiate", "", "malformed JSON body"))
		return
	}

	uploadID, err := s.multipart.Initiate(c.Request.Context(), req.ObjectKey)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "initiated", initResponse{UploadID: uploadID})
}

func (s *Server) handleMultipartUploadPart(c *gin.Context) {
	objectKey := c.PostForm("objectKey")
	uploadID := c.PostForm("uploadId")

	partNumber, err := strconv.Atoi(c.PostForm("partNumber"))
	if err != nil {
		respondError(c, errs.Invalid("upload part", objectKey, "partNumber must be an integer"))
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, errs.Invalid("upload part", objectKey, "no part data uploaded"))
		return
	}
	if s.config.MaxPartSize > 0 && fh.Size > s.config.MaxPartSize {
		respondError(c, errs.Invalid("upload part", objectKey, fmt.Sprintf("part exceeds the %d byte limit", s.config.MaxPartSize)))
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, errs.Invalid("upload part", objectKey, "unreadable part data"))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		respondError(c, errs.Invalid("upload part", objectKey, "unreadable part data"))
		return
	}

	part, err := s.multipart.UploadPart(c.Request.Context(), objectKey, uploadID, partNumber, data)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "part uploaded", partResponse{ETag: part.ETag, PartNumber: part.PartNumber})
}

func (s *Server) handleMultipartComplete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("complete", "", "malformed JSON body"))
		return
	}

	parts := make([]multipart.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		number := p.PartNumber
		if number == 0 {
			number = p.Number
		}
		parts = append(parts, multipart.Part{PartNumber: number, ETag: p.ETag})
	}

	res, err := s.multipart.Complete(c.Request.Context(), req.ObjectKey, req.UploadID, parts)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "completed", res)
}

func (s *Server) handleMultipartAbort(c *gin.Context) {
	var req abortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("abort", "", "malformed JSON body"))
		return
	}
	ctx := c.Request.Context()

	if req.UploadID != "" {
		res, err := s.multipart.Abort(ctx, req.ObjectKey, req.UploadID)
		if err != nil {
			respondError(c, err)
			return
		}
		message := "upload aborted"
		if res.AlreadyGone {
			message = "upload already aborted or completed"
		}
		respondOK(c, message, abortResponse{Message: message})
		return
	}

	results, err := s.multipart.AbortAllForKey(ctx, req.ObjectKey)
	if err != nil {
		if results != nil {
			respondErrorWithData(c, err, abortResponse{Message: "some pending uploads could not be aborted", Results: results})
			return
		}
		respondError(c, err)
		return
	}
	message := fmt.Sprintf("aborted %d pending uploads", len(results))
	respondOK(c, message, abortResponse{Message: message, Results: results})
}
