package core

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"ossgate/internal/errs"
	"ossgate/internal/transfer"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

type fileContent struct {
	ObjectKey string `json:"objectKey"`
	Content   string `json:"content"`
}

type copyRequest struct {
	SourceObjKey string `json:"sourceObjKey"`
	TargetObjKey string `json:"targetObjKey"`
}

type updateRequest struct {
	ObjectKey string `json:"objectKey"`
	Content   string `json:"content"`
}

type uploadResponse struct {
	// Files is a single transfer.PutResult when one file was sent,
	// otherwise a slice in form order.
	Files any `json:"files"`
}

// parseBool accepts the forms browsers send for a checkbox-like flag.
func parseBool(value string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && b
}

// uploadTarget reads the naming fields shared by both upload routes.
func uploadTarget(c *gin.Context, fh *multipart.FileHeader) transfer.FileUpload {
	return transfer.FileUpload{
		Directory:       c.PostForm("path"),
		FileName:        c.PostForm("fileName"),
		OriginalName:    fh.Filename,
		ContentType:     fh.Header.Get("Content-Type"),
		UseOriginalName: parseBool(c.PostForm("originalNameOrNot")),
	}
}

func (s *Server) checkFileSize(fh *multipart.FileHeader) error {
	if s.config.MaxUploadSize > 0 && fh.Size > s.config.MaxUploadSize {
		return errs.Invalid("upload", fh.Filename, fmt.Sprintf("file %q exceeds the %d byte limit", fh.Filename, s.config.MaxUploadSize))
	}
	return nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errs.Invalid("upload", fh.Filename, "unreadable file part")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errs.Invalid("upload", fh.Filename, "unreadable file part")
	}
	return data, nil
}

func (s *Server) handleGetFilesByDir(c *gin.Context) {
	entries, err := s.transfer.ListByPrefix(c.Request.Context(), c.Query("dir"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "ok", entries)
}

func (s *Server) handleGetFileContent(c *gin.Context) {
	key := c.Query("objectKey")

	data, err := s.transfer.GetContent(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "ok", fileContent{ObjectKey: key, Content: string(data)})
}

func (s *Server) handleUploadFiles(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, errs.Invalid("upload", "", "expected a multipart form"))
		return
	}

	files := form.File["files"]
	switch {
	case len(files) == 0:
		respondError(c, errs.Invalid("upload", "", "no files uploaded"))
		return
	case s.config.MaxFiles > 0 && len(files) > s.config.MaxFiles:
		respondError(c, errs.Invalid("upload", "", fmt.Sprintf("at most %d files per request", s.config.MaxFiles)))
		return
	}
	for _, fh := range files {
		if err := s.checkFileSize(fh); err != nil {
			respondError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	results := make([]transfer.PutResult, len(files))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(len(files))
	for i, fh := range files {
		target := uploadTarget(c, fh)
		if len(files) > 1 {
			// One explicit name cannot address several objects.
			target.FileName = ""
		}

		eg.Go(func() error {
			data, err := readFormFile(fh)
			if err != nil {
				return err
			}
			res, err := s.transfer.Upload(ctx, target, data)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		respondError(c, err)
		return
	}

	if len(results) == 1 {
		respondOK(c, "uploaded", uploadResponse{Files: results[0]})
		return
	}
	respondOK(c, "uploaded", uploadResponse{Files: results})
}

func (s *Server) handleStreamUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, errs.Invalid("stream upload", "", "no file uploaded"))
		return
	}
	if err := s.checkFileSize(fh); err != nil {
		respondError(c, err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, errs.Invalid("stream upload", fh.Filename, "unreadable file part"))
		return
	}
	defer f.Close()

	res, err := s.transfer.UploadStream(c.Request.Context(), uploadTarget(c, fh), f, fh.Size)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "uploaded", res)
}

func (s *Server) handleCopyFile(c *gin.Context) {
	var req copyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("copy", "", "malformed JSON body"))
		return
	}

	res, err := s.transfer.Copy(c.Request.Context(), req.SourceObjKey, req.TargetObjKey)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "copied", res)
}

func (s *Server) handleUpdateFileContent(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("update", "", "malformed JSON body"))
		return
	}

	res, err := s.transfer.UpdateContent(c.Request.Context(), req.ObjectKey, []byte(req.Content))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "updated", res)
}

// deletePaths reads the files query parameter. It may be repeated or hold
// a single JSON encoded array.
func deletePaths(c *gin.Context) ([]string, error) {
	paths := c.QueryArray("files")
	if len(paths) == 1 && strings.HasPrefix(strings.TrimSpace(paths[0]), "[") {
		var decoded []string
		if err := json.Unmarshal([]byte(paths[0]), &decoded); err != nil {
			return nil, errs.Invalid("delete", "", "files is not a valid JSON array of strings")
		}
		return decoded, nil
	}
	return paths, nil
}

func (s *Server) handleDeleteFiles(c *gin.Context) {
	paths, err := deletePaths(c)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := s.transfer.DeleteMany(c.Request.Context(), paths)
	if err != nil {
		if res.DeletedCount > 0 {
			respondErrorWithData(c, err, res)
			return
		}
		respondError(c, err)
		return
	}
	respondOK(c, "deleted", res)
}
