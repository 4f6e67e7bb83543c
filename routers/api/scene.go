package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storyboard-server/models"
)

// 流水线快照
func (h *Handler) GetPipeline(c *gin.Context) {
	sess, err := h.svc.Sessions.Get(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Pipeline.Snapshot())
}

// 生成分镜，同步返回
func (h *Handler) GenerateScenes(c *gin.Context) {
	sess, err := h.svc.SummarySession(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	scenes, err := sess.Pipeline.GenerateScenes(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scenes":       scenes,
		"total_scenes": len(scenes),
	})
}

type itemUpdate struct {
	Prompt *string `json:"prompt"`
	Reset  bool    `json:"reset"`
}

// 修改分镜提示词，或 reset 后允许重新生成
func (h *Handler) UpdateScene(c *gin.Context) {
	var req itemUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.svc.SummarySession(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	sceneID := c.Param("scene_id")
	if req.Prompt != nil {
		if _, err := sess.Pipeline.EditScenePrompt(sceneID, *req.Prompt); err != nil {
			h.fail(c, err)
			return
		}
	} else if req.Reset {
		if err := sess.Pipeline.ResetScene(sceneID); err != nil {
			h.fail(c, err)
			return
		}
	}
	scene, err := sess.Pipeline.Scene(sceneID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, scene)
}

// taskAccepted 已在生成时不返回新任务
func taskAccepted(c *gin.Context, task *models.Task, item any) {
	if task == nil {
		c.JSON(http.StatusOK, gin.H{"status": models.StatusGenerating, "item": item})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"status":  task.Status,
		"item":    item,
	})
}

func (h *Handler) GenerateScenePreview(c *gin.Context) {
	sessionID, sceneID := c.Param("session_id"), c.Param("scene_id")
	task, scene, err := h.svc.StartScenePreview(c.Request.Context(), sessionID, sceneID)
	if err != nil {
		h.fail(c, err)
		return
	}
	taskAccepted(c, task, scene)
}

// 修改角色描述，或 reset 后允许重新生成
func (h *Handler) UpdateCastMember(c *gin.Context) {
	var req itemUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.svc.SummarySession(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	charID := c.Param("character_id")
	if req.Prompt != nil {
		if _, err := sess.Pipeline.EditCharacterPrompt(charID, *req.Prompt); err != nil {
			h.fail(c, err)
			return
		}
	} else if req.Reset {
		if err := sess.Pipeline.ResetCharacter(charID); err != nil {
			h.fail(c, err)
			return
		}
	}
	char, err := sess.Pipeline.Character(charID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, char)
}

func (h *Handler) GenerateCharacterImage(c *gin.Context) {
	sessionID, charID := c.Param("session_id"), c.Param("character_id")
	task, char, err := h.svc.StartCharacterImage(c.Request.Context(), sessionID, charID)
	if err != nil {
		h.fail(c, err)
		return
	}
	taskAccepted(c, task, char)
}

// 上传角色立绘 (multipart file 或原始图片)
func (h *Handler) UploadCharacterImage(c *gin.Context) {
	data, contentType, err := h.readPayload(c)
	if err != nil {
		payloadError(c, err)
		return
	}
	sess, err := h.svc.SummarySession(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	char, err := sess.Pipeline.UploadCharacterImage(c.Request.Context(), c.Param("character_id"), contentType, data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, char)
}

// 生成成片
func (h *Handler) GenerateVideo(c *gin.Context) {
	sessionID := c.Param("session_id")
	task, err := h.svc.StartFinalVideo(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"status":  task.Status,
	})
}
