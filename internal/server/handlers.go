package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/session"
)

func (srv *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// startDownload blocks until the download finishes. Disconnecting stops the download.
func (srv *Server) startDownload(c *gin.Context) {
	var req video_fetcher.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req = video_fetcher.NewDownloadRequest(req.URL, req.Format.String(), string(req.Quality), req.OutputDir)
	message, err := srv.session.StartDownload(c.Request.Context(), req)
	if err != nil {
		srv.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (srv *Server) getProgress(c *gin.Context) {
	c.JSON(http.StatusOK, srv.session.GetProgress())
}

func (srv *Server) listFormats(c *gin.Context) {
	formats, err := srv.session.ListFormats(c.Request.Context(), c.Query("url"))
	if err != nil {
		srv.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"formats": formats})
}

func (srv *Server) cancelDownload(c *gin.Context) {
	if err := srv.session.CancelDownload(); err != nil {
		srv.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (srv *Server) history(c *gin.Context) {
	records, err := srv.session.History()
	if err != nil {
		srv.respondError(c, err)
		return
	}
	if records == nil {
		records = []session.DownloadRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"downloads": records})
}

func (srv *Server) deleteHistory(c *gin.Context) {
	if err := srv.session.DeleteHistory(session.DownloadID(c.Param("id"))); err != nil {
		srv.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (srv *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		srv.log.Warnf("%v %v: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, video_fetcher.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, video_fetcher.ErrUnknownDownload):
		return http.StatusNotFound
	case errors.Is(err, video_fetcher.ErrDownloadInProgress):
		return http.StatusConflict
	case errors.Is(err, video_fetcher.ErrToolUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, video_fetcher.ErrProcessFailure), errors.Is(err, video_fetcher.ErrFormatListFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
