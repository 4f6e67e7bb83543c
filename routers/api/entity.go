package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storyboard-server/models"
	"storyboard-server/transfer"
)

// 故事库

func (h *Handler) ListStories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stories": h.svc.Store.Stories(c.Request.Context())})
}

func (h *Handler) SaveStory(c *gin.Context) {
	var req models.Story
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	story, err := h.svc.Store.SaveStory(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *Handler) DeleteStory(c *gin.Context) {
	if err := h.svc.Store.DeleteStory(c.Request.Context(), c.Param("story_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ExportStories(c *gin.Context) {
	data, err := transfer.ExportStories(h.svc.Store.Stories(c.Request.Context()))
	if err != nil {
		h.fail(c, err)
		return
	}
	attachment(c, transfer.StoriesFileName, data)
}

func (h *Handler) ImportStories(c *gin.Context) {
	data, _, err := h.readPayload(c)
	if err != nil {
		payloadError(c, err)
		return
	}
	stories, err := transfer.ParseStories(data)
	if err != nil {
		h.fail(c, err)
		return
	}
	added, err := h.svc.Store.ImportStories(c.Request.Context(), stories)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "stories": h.svc.Store.Stories(c.Request.Context())})
}

// 角色库

func (h *Handler) ListCharacters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"characters": h.svc.Store.Characters(c.Request.Context())})
}

func (h *Handler) AddCharacter(c *gin.Context) {
	var req struct {
		Name   string `json:"name"`
		Prompt string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	char, err := h.svc.Store.AddCharacter(c.Request.Context(), req.Name, req.Prompt)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, char)
}

func (h *Handler) DeleteCharacter(c *gin.Context) {
	if err := h.svc.Store.DeleteCharacter(c.Request.Context(), c.Param("character_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ExportCharacters(c *gin.Context) {
	data, err := transfer.ExportCharacters(h.svc.Store.Characters(c.Request.Context()))
	if err != nil {
		h.fail(c, err)
		return
	}
	attachment(c, transfer.CharactersFileName, data)
}

// 导入角色：整批校验，只追加新 ID
func (h *Handler) ImportCharacters(c *gin.Context) {
	data, _, err := h.readPayload(c)
	if err != nil {
		payloadError(c, err)
		return
	}
	chars, err := transfer.ParseCharacters(data)
	if err != nil {
		h.fail(c, err)
		return
	}
	added, err := h.svc.Store.ImportCharacters(c.Request.Context(), chars)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "characters": h.svc.Store.Characters(c.Request.Context())})
}
