package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chatmux/internal/chat"
	"chatmux/internal/conversations"
	"chatmux/internal/providers"
	"chatmux/internal/settings"
)

type chatRequest struct {
	Text      string `json:"text"`
	WebSearch bool   `json:"webSearch"`
	Thinking  bool   `json:"thinking"`
}

type conversationView struct {
	ID       string                  `json:"id"`
	Title    string                  `json:"title"`
	Messages []conversations.Message `json:"messages"`
}

type summaryView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastModified time.Time `json:"timestamp"`
	MessageCount int       `json:"messageCount"`
}

func viewOf(st chat.State) conversationView {
	msgs := st.Messages
	if msgs == nil {
		msgs = []conversations.Message{}
	}
	return conversationView{ID: st.ID, Title: st.Title, Messages: msgs}
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	var steps []string
	reply, err := s.chat.Send(c.Request.Context(), chat.Request{
		Text:      req.Text,
		WebSearch: req.WebSearch,
		Thinking:  req.Thinking,
	}, func(step string) {
		steps = append(steps, step)
	})
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		abortError(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, chat.ErrBusy):
		abortError(c, http.StatusConflict, err)
		return
	case err != nil:
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	if steps == nil {
		steps = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": viewOf(s.chat.Current()),
		"message":      reply,
		"thinking":     steps,
	})
}

func (s *Server) handleNewConversation(c *gin.Context) {
	if err := s.chat.NewConversation(); err != nil {
		abortError(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(s.chat.Current()))
}

func (s *Server) handleListConversations(c *gin.Context) {
	records, err := s.store.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]summaryView, 0, len(records))
	for _, r := range records {
		out = append(out, summaryView{ID: r.ID, Title: r.Title, LastModified: r.LastModified, MessageCount: len(r.Messages)})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out, "current": s.chat.Current().ID})
}

func (s *Server) handleGetConversation(c *gin.Context) {
	rec, ok, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		abortError(c, http.StatusNotFound, conversations.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleOpenConversation(c *gin.Context) {
	st, err := s.chat.Open(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, conversations.ErrNotFound):
		abortError(c, http.StatusNotFound, err)
		return
	case errors.Is(err, chat.ErrBusy):
		abortError(c, http.StatusConflict, err)
		return
	case err != nil:
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(st))
}

func (s *Server) handleRenameConversation(c *gin.Context) {
	var body struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		abortError(c, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		rec conversations.Record
		err error
	)
	if cur := s.chat.Current(); cur.ID == id {
		var st chat.State
		st, err = s.chat.RenameCurrent(ctx, body.Title)
		rec = conversations.Record{ID: st.ID, Title: st.Title, Messages: st.Messages}
	} else {
		_, ok, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			abortError(c, http.StatusInternalServerError, getErr)
			return
		}
		if !ok {
			abortError(c, http.StatusNotFound, conversations.ErrNotFound)
			return
		}
		rec, err = s.store.Rename(ctx, id, body.Title, nil)
	}
	switch {
	case errors.Is(err, conversations.ErrEmptyTitle):
		abortError(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, chat.ErrBusy):
		abortError(c, http.StatusConflict, err)
		return
	case err != nil:
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": rec.ID, "title": rec.Title})
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	removed, err := s.chat.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, chat.ErrBusy):
		abortError(c, http.StatusConflict, err)
		return
	case err != nil:
		abortError(c, http.StatusInternalServerError, err)
		return
	case !removed:
		abortError(c, http.StatusNotFound, conversations.ErrNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExportConversation(c *gin.Context) {
	format, err := conversations.ParseFormat(c.DefaultQuery("format", string(conversations.FormatMarkdown)))
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	exp, err := s.store.Export(c.Request.Context(), c.Param("id"), format)
	switch {
	case errors.Is(err, conversations.ErrNotFound):
		abortError(c, http.StatusNotFound, err)
		return
	case errors.Is(err, conversations.ErrNotImplemented):
		abortError(c, http.StatusNotImplemented, err)
		return
	case errors.Is(err, conversations.ErrUnknownFormat):
		abortError(c, http.StatusBadRequest, err)
		return
	case err != nil:
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.Filename))
	c.Data(http.StatusOK, exp.ContentType, []byte(exp.Body))
}

type providerView struct {
	ID              providers.ProviderID `json:"id"`
	Name            string               `json:"name"`
	Remote          bool                 `json:"remote"`
	Models          []string             `json:"models"`
	DefaultEndpoint string               `json:"defaultEndpoint"`
	Selected        bool                 `json:"selected"`
}

func (s *Server) handleListProviders(c *gin.Context) {
	cat := s.dispatcher.Catalog()
	selected := s.dispatcher.Snapshot().Provider
	out := make([]providerView, 0, len(providers.All))
	for _, id := range providers.All {
		out = append(out, providerView{
			ID:              id,
			Name:            id.DisplayName(),
			Remote:          id.Remote(),
			Models:          cat.Models(id),
			DefaultEndpoint: cat.DefaultEndpoint(id),
			Selected:        id == selected,
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

func (s *Server) handleProviderModels(c *gin.Context) {
	id, err := providers.ParseProviderID(c.Param("id"))
	if err != nil {
		abortError(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": id, "models": s.dispatcher.ListSupportedModels(id)})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, settings.FromDispatcher(s.dispatcher).Redacted())
}

// settingsPatch only touches the fields present in the body.
type settingsPatch struct {
	APIKey           *string `json:"apiKey"`
	BaseURL          *string `json:"baseUrl"`
	LocalBaseURL     *string `json:"localBaseUrl"`
	SelectedProvider *string `json:"selectedProvider"`
	SelectedModel    *string `json:"selectedModel"`
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var patch settingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abortError(c, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	next := settings.FromDispatcher(s.dispatcher)
	if patch.SelectedProvider != nil {
		id, err := providers.ParseProviderID(*patch.SelectedProvider)
		if err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
		next.SelectedProvider = id
	}
	if patch.APIKey != nil {
		next.APIKey = strings.TrimSpace(*patch.APIKey)
	}
	if patch.BaseURL != nil {
		next.BaseURL = strings.TrimSpace(*patch.BaseURL)
	}
	if patch.LocalBaseURL != nil {
		next.LocalBaseURL = strings.TrimSpace(*patch.LocalBaseURL)
	}
	if patch.SelectedModel != nil {
		next.SelectedModel = strings.TrimSpace(*patch.SelectedModel)
	}

	if err := s.settings.Save(c.Request.Context(), next); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	settings.Apply(s.dispatcher, next)
	c.JSON(http.StatusOK, next.Redacted())
}
