package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler returns the http.Handler serving the ossgate API.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.MaxMultipartMemory = s.config.MaxUploadSize

	router.GET("/healthz", func(c *gin.Context) {
		respondOK(c, "ok", gin.H{"status": "ok"})
	})

	api := router.Group("/", s.RequireAuthentication())

	// Whole objects
	api.GET("/getFilesByDir", s.handleGetFilesByDir)
	api.GET("/getFileContent", s.handleGetFileContent)
	api.POST("/uploadFiles", LimitBody(int64(s.config.MaxFiles)*s.config.MaxUploadSize), s.handleUploadFiles)
	api.POST("/streamUploadFiles", LimitBody(s.config.MaxUploadSize), s.handleStreamUpload)
	api.POST("/copyFile", s.handleCopyFile)
	api.PUT("/updateFileContent", s.handleUpdateFileContent)
	api.DELETE("/deleteOssFiles", s.handleDeleteFiles)

	// Direct upload
	api.GET("/getOssSignature", s.handleGetSignature)

	// Multipart lifecycle
	api.GET("/get-pending-multipart", s.handlePendingMultipart)
	api.POST("/multipart-init", s.handleMultipartInit)
	api.POST("/multipart-upload-part", LimitBody(s.config.MaxPartSize), s.handleMultipartUploadPart)
	api.POST("/multipart-complete", s.handleMultipartComplete)
	api.POST("/multipart-abort", s.handleMultipartAbort)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, Envelope{Code: http.StatusNotFound, Message: "route not found"})
	})

	// Add middleware
	handler := SlashFix(router)
	handler = LogRequest(handler)
	handler = Recoverer(handler)
	return handler
}
