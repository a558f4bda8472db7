package gateway

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clipshare/server/internal/errors"
	"github.com/clipshare/server/internal/middleware"
	"github.com/clipshare/server/internal/shareservice"
	"github.com/clipshare/server/internal/validation"
)

// RegisterRoutes mounts the REST surface from §6 and the websocket upgrade
// endpoint onto r. Each route carries its own rate-limit category rather than
// a blanket router.Use, since §4.1 scopes "HTTP general" to non-upload HTTP:
// a single global middleware would double-count uploads against their own
// stricter bucket and count every /ws upgrade as a general hit.
func (g *Gateway) RegisterRoutes(r gin.IRouter, limiter *middleware.Limiter) {
	r.GET("/ws", g.HandleWebSocket)
	r.GET("/health", limiter.RateLimit(middleware.CategoryHTTPGeneral), g.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/files/upload", limiter.RateLimit(middleware.CategoryHTTPUpload), g.handleUpload)
		api.GET("/files/download/:fileId", limiter.RateLimit(middleware.CategoryHTTPGeneral), g.handleDownload)

		api.GET("/rooms/messages", limiter.RateLimit(middleware.CategoryHTTPRoomAct), g.handleRoomMessages)
		api.POST("/rooms/validate-user", limiter.RateLimit(middleware.CategoryHTTPRoomAct), g.handleValidateUser)

		share := api.Group("/share", middleware.ShareSecurityHeaders())
		share.POST("", limiter.RateLimit(middleware.CategoryHTTPStrict), g.handleCreateShare)
		share.GET("", limiter.RateLimit(middleware.CategoryHTTPGeneral), g.handleListShares)
		share.GET("/:shareId", limiter.RateLimit(middleware.CategoryHTTPGeneral), g.handleShareDetails)
		share.DELETE("/:shareId", limiter.RateLimit(middleware.CategoryHTTPGeneral), g.handleRevokeShare)
		share.POST("/:shareId/permanent-delete", limiter.RateLimit(middleware.CategoryHTTPGeneral), g.handlePermanentDeleteShare)
		share.GET("/:shareId/access", limiter.RateLimit(middleware.CategoryHTTPGeneral), g.handleShareAccessLogs)
		share.GET("/:shareId/download", limiter.RateLimit(middleware.CategoryHTTPAuth), g.handleShareDownload)
	}
}

func (g *Gateway) handleHealth(c *gin.Context) {
	middleware.JSON(c, http.StatusOK, gin.H{"status": "ok"})
}

// actorFromRequest resolves the requesting user-id for REST calls that act
// on behalf of a member: the room-key and fingerprint identify the same
// deterministic user-id the websocket session would have.
func (g *Gateway) actorFromRequest(c *gin.Context) (roomKey, userID string, ok bool) {
	roomKey = c.GetHeader("X-Room-Key")
	fingerprint := c.GetHeader("X-Fingerprint")
	if roomKey == "" || fingerprint == "" {
		return "", "", false
	}
	if err := validation.ValidateRoomKey(roomKey); err != nil {
		return "", "", false
	}
	return roomKey, g.registry.DeriveUserID(fingerprint, roomKey), true
}

func (g *Gateway) handleUpload(c *gin.Context) {
	roomKey, userID, ok := g.actorFromRequest(c)
	if !ok {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "X-Room-Key and X-Fingerprint headers are required"))
		return
	}
	if !g.registry.IsMember(roomKey, userID) {
		middleware.Fail(c, errors.New(errors.CodeUserNotInRoom, "only a room member may upload"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "multipart field 'file' is required"))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		middleware.Fail(c, errors.Internal(err))
		return
	}
	defer f.Close()

	// §4.3 allows rejecting a disallowed content-type, but doesn't name the
	// disallow-set, so every MIME type reaching here is accepted as-is.
	blob, err := g.files.Upload(roomKey, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), fileHeader.Size, f)
	if err != nil {
		middleware.Fail(c, err)
		return
	}

	middleware.JSON(c, http.StatusCreated, gin.H{
		"fileId":      blob.FileID,
		"downloadUrl": fmt.Sprintf("/api/files/download/%s", blob.FileID),
	})
}

func (g *Gateway) handleDownload(c *gin.Context) {
	fileID := c.Param("fileId")
	f, blob, err := g.files.Open(fileID)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, blob.OriginalName))
	c.DataFromReader(http.StatusOK, blob.Size, blob.MimeType, f, nil)
}

func (g *Gateway) handleRoomMessages(c *gin.Context) {
	roomKey, _, ok := g.actorFromRequest(c)
	if !ok {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "X-Room-Key and X-Fingerprint headers are required"))
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	history, err := g.registry.RecentMessages(roomKey, limit)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.JSON(c, http.StatusOK, history)
}

func (g *Gateway) handleValidateUser(c *gin.Context) {
	var body validation.ValidateUserRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "malformed request body"))
		return
	}
	if err := body.Validate(); err != nil {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, err.Error()))
		return
	}

	userExists := g.registry.ValidateUser(body.RoomKey, body.UserFingerprint)
	middleware.JSON(c, http.StatusOK, gin.H{
		"roomExists": g.registry.RoomExists(body.RoomKey),
		"userExists": userExists,
	})
}

func (g *Gateway) handleCreateShare(c *gin.Context) {
	_, userID, ok := g.actorFromRequest(c)
	if !ok {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "X-Room-Key and X-Fingerprint headers are required"))
		return
	}

	var body validation.CreateShareRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "malformed request body"))
		return
	}
	if err := body.Validate(); err != nil {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, err.Error()))
		return
	}

	wantPassword := body.Password == "auto-generate"
	result, err := g.shares.Create(body.FileID, userID, body.ExpiresInDays, wantPassword)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.JSON(c, http.StatusCreated, result)
}

func (g *Gateway) handleListShares(c *gin.Context) {
	_, userID, ok := g.actorFromRequest(c)
	if !ok {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "X-Room-Key and X-Fingerprint headers are required"))
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	summaries := g.shares.List(userID, shareservice.ListFilter{
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	middleware.JSON(c, http.StatusOK, summaries)
}

func (g *Gateway) handleShareDetails(c *gin.Context) {
	details, err := g.shares.GetDetails(c.Param("shareId"))
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.JSON(c, http.StatusOK, details)
}

func (g *Gateway) handleRevokeShare(c *gin.Context) {
	_, userID, ok := g.actorFromRequest(c)
	if !ok {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "X-Room-Key and X-Fingerprint headers are required"))
		return
	}
	if err := g.shares.Revoke(c.Param("shareId"), userID); err != nil {
		middleware.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) handlePermanentDeleteShare(c *gin.Context) {
	_, userID, ok := g.actorFromRequest(c)
	if !ok {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "X-Room-Key and X-Fingerprint headers are required"))
		return
	}
	if err := g.shares.PermanentDelete(c.Param("shareId"), userID); err != nil {
		middleware.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) handleShareAccessLogs(c *gin.Context) {
	_, userID, ok := g.actorFromRequest(c)
	if !ok {
		middleware.Fail(c, errors.New(errors.CodeInvalidPayload, "X-Room-Key and X-Fingerprint headers are required"))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := g.shares.GetAccessLogs(c.Param("shareId"), userID, limit)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.JSON(c, http.StatusOK, logs)
}

func (g *Gateway) handleShareDownload(c *gin.Context) {
	shareID := c.Param("shareId")

	user, pass, hasAuth := c.Request.BasicAuth()
	_ = user

	result, err := g.shares.Access(shareservice.AccessRequest{
		ShareID:          shareID,
		ProvidedPassword: pass,
		HasCredentials:   hasAuth,
		ClientIP:         c.ClientIP(),
		UserAgent:        c.Request.UserAgent(),
	})
	if err != nil {
		if apiErr, ok := errors.As(err); ok && apiErr.Code == errors.CodeAuthenticationRequired {
			c.Header("WWW-Authenticate", `Basic realm="share"`)
		}
		middleware.Fail(c, err)
		return
	}

	f, _, openErr := g.files.Open(result.Blob.FileID)
	if openErr != nil {
		middleware.Fail(c, openErr)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Blob.OriginalName))
	counting := &countingReader{r: f}
	c.DataFromReader(http.StatusOK, result.Blob.Size, result.Blob.MimeType, counting, nil)
	g.shares.RecordStreamComplete(shareID, shareservice.AccessRequest{
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}, counting.n)
}

// countingReader tracks bytes actually read, for the bytes-transferred
// figure logged at stream end (§4.4 step 7).
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
