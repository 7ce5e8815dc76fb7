// Package conversations mounts the read side of the mirror over HTTP:
// conversation lists, timelines, single messages and the few user driven
// mutations (star, decrypted media location, preview repair).
package conversations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/chirino/chat-mirror/internal/mirror"
	"github.com/chirino/chat-mirror/internal/model"
	registryroute "github.com/chirino/chat-mirror/internal/registry/route"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after the engine starts
		},
	})
}

// Mirror is the query surface the routes read from.
type Mirror interface {
	ListConversations(ctx context.Context, query registrystore.ConversationQuery) (*registrystore.ConversationPage, error)
	GetConversationInfo(ctx context.Context, address string) (*mirror.ConversationInfo, error)
	ListMessages(ctx context.Context, address string, query registrystore.MessageQuery) (*registrystore.MessagePage, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	SetStarred(ctx context.Context, id string, starred bool) (bool, error)
	SetMediaDecryptedLocation(ctx context.Context, id string, loc mirror.MediaLocation) (bool, error)
	RecomputeConversationPreview(ctx context.Context, address string) error
}

var _ Mirror = (*mirror.Engine)(nil)

// MountRoutes mounts the query routes on r.
func MountRoutes(r *gin.Engine, m Mirror) {
	g := r.Group("/v1")

	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, m)
	})
	g.GET("/conversations/:address", func(c *gin.Context) {
		getConversation(c, m)
	})
	g.GET("/conversations/:address/messages", func(c *gin.Context) {
		listMessages(c, m)
	})
	g.POST("/conversations/:address/preview", func(c *gin.Context) {
		recomputePreview(c, m)
	})
	g.GET("/messages/:id", func(c *gin.Context) {
		getMessage(c, m)
	})
	g.PUT("/messages/:id/star", func(c *gin.Context) {
		setStarred(c, m)
	})
	g.PUT("/messages/:id/media", func(c *gin.Context) {
		setMediaLocation(c, m)
	})
}

func listConversations(c *gin.Context, m Mirror) {
	query := registrystore.ConversationQuery{
		Search:    c.Query("search"),
		HasMedia:  queryBool(c, "hasMedia"),
		SortBy:    c.DefaultQuery("sortBy", registrystore.SortByLastMessage),
		SortOrder: c.DefaultQuery("sortOrder", "desc"),
		Limit:     queryInt(c, "limit", 0),
		Offset:    queryInt(c, "offset", 0),
	}
	switch query.SortBy {
	case registrystore.SortByLastMessage, registrystore.SortByID, registrystore.SortByName:
	default:
		handleError(c, &registrystore.ValidationError{Field: "sortBy", Message: fmt.Sprintf("unsupported sort key %q", query.SortBy)})
		return
	}

	page, err := m.ListConversations(c.Request.Context(), query)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func getConversation(c *gin.Context, m Mirror) {
	info, err := m.GetConversationInfo(c.Request.Context(), c.Param("address"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func listMessages(c *gin.Context, m Mirror) {
	query := registrystore.MessageQuery{
		Start:     queryInt64Ptr(c, "start"),
		End:       queryInt64Ptr(c, "end"),
		MediaOnly: queryBool(c, "mediaOnly"),
		Search:    c.Query("search"),
		Limit:     queryInt(c, "limit", 0),
		Offset:    queryInt(c, "offset", 0),
	}
	if v := c.Query("fromMe"); v != "" {
		fromMe, err := strconv.ParseBool(v)
		if err != nil {
			handleError(c, &registrystore.ValidationError{Field: "fromMe", Message: "must be true or false"})
			return
		}
		query.FromMe = &fromMe
	}

	page, err := m.ListMessages(c.Request.Context(), c.Param("address"), query)
	if err != nil {
		handleError(c, err)
		return
	}
	items := make([]model.Message, 0, len(page.Items))
	for _, msg := range page.Items {
		view, err := redact(msg)
		if err != nil {
			handleError(c, err)
			return
		}
		items = append(items, view)
	}
	c.JSON(http.StatusOK, gin.H{"total": page.Total, "items": items})
}

func recomputePreview(c *gin.Context, m Mirror) {
	if err := m.RecomputeConversationPreview(c.Request.Context(), c.Param("address")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func getMessage(c *gin.Context, m Mirror) {
	msg, err := m.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	view, err := redact(*msg)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func setStarred(c *gin.Context, m Mirror) {
	var req struct {
		Starred *bool `json:"starred"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Starred == nil {
		handleError(c, &registrystore.ValidationError{Field: "starred", Message: "a boolean starred field is required"})
		return
	}
	changed, err := m.SetStarred(c.Request.Context(), c.Param("id"), *req.Starred)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func setMediaLocation(c *gin.Context, m Mirror) {
	var loc mirror.MediaLocation
	if err := c.ShouldBindJSON(&loc); err != nil {
		handleError(c, &registrystore.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	changed, err := m.SetMediaDecryptedLocation(c.Request.Context(), c.Param("id"), loc)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

// redact drops the recovery copy of deleted content before a message leaves
// the process.
func redact(msg model.Message) (model.Message, error) {
	if msg.RawEnvelope == "" {
		return msg, nil
	}
	env, err := msg.Envelope()
	if err != nil {
		return msg, err
	}
	if env.MessageBeforeDelete == nil {
		return msg, nil
	}
	err = msg.SetEnvelope(env.Redacted())
	return msg, err
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": conflict.Code, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return def
	}
	return i
}

func queryInt64Ptr(c *gin.Context, key string) *int64 {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &i
}

func queryBool(c *gin.Context, key string) bool {
	b, _ := strconv.ParseBool(c.Query(key))
	return b
}
