package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes registers all endpoints on the router.
func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/", handler.Root)

	collection := router.Group("/collection")
	{
		collection.POST("/parse", handler.ParseDirectory)
		collection.POST("/upload", handler.ParseUpload)
		collection.POST("/url", handler.ParseURL)
		collection.POST("/store", handler.StoreEvents)
	}

	router.POST("/upload", handler.UploadFile)
	router.GET("/download-from-s3/:file_name", handler.DownloadFromBlob)
}
