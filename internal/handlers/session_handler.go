package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatSync/internal/api"
	"github.com/Gopher0727/ChatSync/internal/model"
	"github.com/Gopher0727/ChatSync/internal/session"
	"github.com/Gopher0727/ChatSync/internal/utils"
	logger "github.com/Gopher0727/ChatSync/middleware/log"
)

// SessionHandler 把会话的投影与意图暴露给 UI 壳
type SessionHandler struct {
	Session *session.Session
	Logger  *logger.Logger
}

func NewSessionHandler(s *session.Session, log *logger.Logger) *SessionHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SessionHandler{Session: s, Logger: log}
}

// fail 把会话错误映射为 HTTP 状态码
func (h *SessionHandler) fail(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, session.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotMessageOwner):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrMessageNotFound), errors.Is(err, session.ErrChannelNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, api.ErrUnexpectedStatus):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		h.Logger.For(c.Request.Context()).Warn("session intent failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数格式错误"})
}

// Me 返回当前会话用户
func (h *SessionHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, h.Session.Me())
}

// ListChannels 返回本地频道注册表
func (h *SessionHandler) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.Session.Channels(), "active": h.Session.Active()})
}

// RefreshChannels 从服务端拉取频道列表，失败时返回缓存并附带 warning
func (h *SessionHandler) RefreshChannels(c *gin.Context) {
	channels, err := h.Session.LoadChannels(c.Request.Context())
	resp := gin.H{"channels": channels}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) CreateChannel(c *gin.Context) {
	var req struct {
		Name      string   `json:"name" binding:"required"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	name := utils.NormalizeChannelName(req.Name)
	if !utils.ValidateChannelName(name) {
		badRequest(c)
		return
	}
	ch, err := h.Session.CreateChannel(c.Request.Context(), name, utils.NormalizeUserIDs(req.MemberIDs))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

// UpdateChannel 修改主题或静音状态，字段缺省表示不修改
func (h *SessionHandler) UpdateChannel(c *gin.Context) {
	var req struct {
		Topic *string `json:"topic"`
		Muted *bool   `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || (req.Topic == nil && req.Muted == nil) {
		badRequest(c)
		return
	}
	ctx, id := c.Request.Context(), c.Param("channel_id")
	if req.Topic != nil {
		if err := h.Session.SetChannelTopic(ctx, id, *req.Topic); err != nil {
			h.fail(c, err)
			return
		}
	}
	if req.Muted != nil {
		if err := h.Session.SetChannelMuted(ctx, id, *req.Muted); err != nil {
			h.fail(c, err)
			return
		}
	}
	ch, _ := h.Session.Channel(id)
	c.JSON(http.StatusOK, ch)
}

func (h *SessionHandler) InviteMembers(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"userIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	ids := utils.NormalizeUserIDs(req.UserIDs)
	if len(ids) == 0 {
		badRequest(c)
		return
	}
	if err := h.Session.InviteToChannel(c.Request.Context(), c.Param("channel_id"), ids); err != nil {
		h.fail(c, err)
		return
	}
	ch, _ := h.Session.Channel(c.Param("channel_id"))
	c.JSON(http.StatusOK, ch)
}

// SwitchChannel 切换活动频道。加载失败时仍返回 200，列表为缓存或空，并附带 warning
func (h *SessionHandler) SwitchChannel(c *gin.Context) {
	msgs, err := h.Session.SwitchChannel(c.Request.Context(), c.Param("channel_id"))
	if err != nil && (errors.Is(err, session.ErrClosed) || errors.Is(err, session.ErrInvalidArgument)) {
		h.fail(c, err)
		return
	}
	resp := gin.H{"channelId": c.Param("channel_id"), "messages": nonNil(msgs)}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) OpenDM(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"userIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	ch, msgs, err := h.Session.OpenDM(c.Request.Context(), utils.NormalizeUserIDs(req.UserIDs)...)
	if ch.ID == "" {
		h.fail(c, err)
		return
	}
	resp := gin.H{"channel": ch, "messages": nonNil(msgs)}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// GetMessages 返回频道的消息列表，非活动频道读取缓存
func (h *SessionHandler) GetMessages(c *gin.Context) {
	msgs := h.Session.ChannelMessages(c.Request.Context(), c.Param("channel_id"))
	c.JSON(http.StatusOK, gin.H{"messages": nonNil(msgs)})
}

func (h *SessionHandler) GetThread(c *gin.Context) {
	if c.Param("channel_id") != h.Session.Active() {
		c.JSON(http.StatusConflict, gin.H{"error": "channel is not active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": nonNil(h.Session.Thread(c.Param("message_id")))})
}

type sendRequest struct {
	Text             string   `json:"text"`
	ReplyToMessageID string   `json:"replyToMessageId"`
	ThreadParentID   string   `json:"threadParentId"`
	FileIDs          []string `json:"fileIds"`
}

func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	m, err := h.Session.Send(c.Request.Context(), c.Param("channel_id"), req.Text, model.SendOptions{
		ReplyToMessageID: req.ReplyToMessageID,
		ThreadParentID:   req.ThreadParentID,
		FileIDs:          req.FileIDs,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *SessionHandler) ReplyInThread(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	m, err := h.Session.SendThreadReply(c.Request.Context(), c.Param("channel_id"), c.Param("message_id"), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *SessionHandler) EditMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	m, err := h.Session.Edit(c.Request.Context(), c.Param("channel_id"), c.Param("message_id"), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// DeleteMessage 返回被删除的消息，供撤销时调用 RestoreMessage
func (h *SessionHandler) DeleteMessage(c *gin.Context) {
	m, err := h.Session.Delete(c.Request.Context(), c.Param("channel_id"), c.Param("message_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *SessionHandler) RestoreMessage(c *gin.Context) {
	var m model.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c)
		return
	}
	if m.ChannelID == "" {
		m.ChannelID = c.Param("channel_id")
	}
	if m.ChannelID != c.Param("channel_id") {
		badRequest(c)
		return
	}
	if err := h.Session.Restore(c.Request.Context(), m); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": m.ID})
}

func (h *SessionHandler) ToggleReaction(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !utils.ValidateEmoji(req.Emoji) {
		badRequest(c)
		return
	}
	added, err := h.Session.ToggleReaction(c.Request.Context(), c.Param("channel_id"), c.Param("message_id"), req.Emoji)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emoji": req.Emoji, "added": added})
}

func (h *SessionHandler) TogglePin(c *gin.Context) {
	pinned, err := h.Session.TogglePin(c.Request.Context(), c.Param("channel_id"), c.Param("message_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pinned": pinned})
}

func (h *SessionHandler) ToggleSave(c *gin.Context) {
	saved, err := h.Session.ToggleSave(c.Request.Context(), c.Param("message_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": saved})
}

// GetPins 默认返回本地集合，?refresh=true 时先向服务端同步
func (h *SessionHandler) GetPins(c *gin.Context) {
	id := c.Param("channel_id")
	if c.Query("refresh") != "true" {
		c.JSON(http.StatusOK, gin.H{"messageIds": nonNil(h.Session.Pins(id))})
		return
	}
	ids, err := h.Session.RefreshPins(c.Request.Context(), id)
	resp := gin.H{"messageIds": nonNil(ids)}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) GetSaved(c *gin.Context) {
	if c.Query("refresh") != "true" {
		c.JSON(http.StatusOK, gin.H{"messageIds": nonNil(h.Session.Saved())})
		return
	}
	ids, err := h.Session.RefreshSaved(c.Request.Context())
	resp := gin.H{"messageIds": nonNil(ids)}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) GetActivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.Session.Activity(c.Request.Context(), c.Param("channel_id")))
}

func (h *SessionHandler) ListActivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.Session.Activities(c.Request.Context()))
}

// MarkRead 推进读游标，ts 缺省时标记整个频道已读
func (h *SessionHandler) MarkRead(c *gin.Context) {
	var req struct {
		TS int64 `json:"ts"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c)
			return
		}
	}
	ctx, id := c.Request.Context(), c.Param("channel_id")
	var a model.ChannelActivity
	if req.TS > 0 {
		a = h.Session.MarkRead(ctx, id, req.TS)
	} else {
		a = h.Session.MarkChannelRead(ctx, id)
	}
	c.JSON(http.StatusOK, gin.H{"cursor": h.Session.ReadCursor(id), "activity": a})
}

func (h *SessionHandler) MarkUnread(c *gin.Context) {
	id := c.Param("channel_id")
	a, err := h.Session.MarkUnreadFrom(c.Request.Context(), id, c.Param("message_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cursor": h.Session.ReadCursor(id), "activity": a})
}

func (h *SessionHandler) StartTyping(c *gin.Context) {
	h.Session.SetTyping(c.Request.Context(), c.Param("channel_id"))
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) GetTyping(c *gin.Context) {
	users := h.Session.TypingUsers(c.Param("channel_id"))
	if users == nil {
		users = []model.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *SessionHandler) GetHuddle(c *gin.Context) {
	c.JSON(http.StatusOK, h.Session.Huddle(c.Param("channel_id")))
}

func (h *SessionHandler) SetHuddle(c *gin.Context) {
	var state model.HuddleState
	if err := c.ShouldBindJSON(&state); err != nil {
		badRequest(c)
		return
	}
	state.Participants = utils.NormalizeUserIDs(state.Participants)
	h.Session.SetHuddle(c.Request.Context(), c.Param("channel_id"), state)
	c.JSON(http.StatusOK, h.Session.Huddle(c.Param("channel_id")))
}

// nonNil 让空列表序列化为 [] 而不是 null
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
