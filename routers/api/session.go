package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storyboard-server/models"
	"storyboard-server/transfer"
)

// 创建会话，初始为示例项目
func (h *Handler) CreateSession(c *gin.Context) {
	sess := h.svc.Sessions.Create()
	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"wizard":     sess.Wizard.State(),
	})
}

// 获取会话的向导状态
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.svc.Sessions.Get(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	tasks, err := h.svc.RecentTasks(sess.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":   sess.ID,
		"wizard":       sess.Wizard.State(),
		"recent_tasks": tasks,
	})
}

func (h *Handler) SubmitStory(c *gin.Context) {
	var req models.Story
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.svc.SubmitStory(c.Request.Context(), c.Param("session_id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// 提交角色：characterIds 从角色库选取，或直接给出 characters
func (h *Handler) SubmitCharacters(c *gin.Context) {
	var req struct {
		CharacterIDs []string           `json:"characterIds"`
		Characters   []models.Character `json:"characters"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.svc.SubmitCharacters(c.Request.Context(), c.Param("session_id"), req.CharacterIDs, req.Characters)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) SubmitConfig(c *gin.Context) {
	var req models.VideoConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.svc.Sessions.Get(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	st, err := sess.Wizard.SubmitConfig(req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) Back(c *gin.Context) {
	sess, err := h.svc.Sessions.Get(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	st, err := sess.Wizard.Back()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// 导出项目文件
func (h *Handler) ExportProject(c *gin.Context) {
	sess, err := h.svc.Sessions.Get(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := transfer.ExportProject(sess.Wizard.Project())
	if err != nil {
		h.fail(c, err)
		return
	}
	attachment(c, transfer.ProjectFileName, data)
}

// 导入项目文件，整份替换并回到第一步
func (h *Handler) ImportProject(c *gin.Context) {
	data, _, err := h.readPayload(c)
	if err != nil {
		payloadError(c, err)
		return
	}
	st, err := h.svc.ImportProject(c.Param("session_id"), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// 删除会话
func (h *Handler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, err := h.svc.Sessions.Get(sessionID); err != nil {
		h.fail(c, err)
		return
	}
	h.svc.Sessions.Delete(sessionID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
