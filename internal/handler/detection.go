package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"facescan/internal/auth"
	"facescan/internal/detection"
	"facescan/internal/navigation"
)

// machine returns the caller's detection machine, kept alive for as long
// as the session can refresh. A session closed by logout gets 401.
func (h *Handler) machine(c *gin.Context) (*detection.Machine, bool) {
	m, err := h.registry.Get(auth.SessionFrom(c).ID, h.now().Add(h.opts.RefreshTTL))
	if errors.Is(err, detection.ErrClosed) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session ended", "redirect": navigation.PathLogin})
		return nil, false
	}
	return m, true
}

func snapshotResponse(s detection.Snapshot) gin.H {
	resp := gin.H{"detection": s}
	if n := detectionNotice(s); n != nil {
		resp["notice"] = n
	}
	return resp
}

// DetectionState returns the machine snapshot. With ?wait=true it blocks
// until the detection in flight finishes; if that takes longer than
// maxWait it answers 202 with timed_out set.
func (h *Handler) DetectionState(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if c.Query("wait") != "true" {
		c.JSON(http.StatusOK, snapshotResponse(m.Snapshot()))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.maxWait)
	defer cancel()
	s, err := m.Wait(ctx)
	if err != nil {
		resp := snapshotResponse(s)
		resp["timed_out"] = true
		c.JSON(http.StatusAccepted, resp)
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(s))
}

func (h *Handler) SelectImage(c *gin.Context) {
	var req struct {
		Image string `json:"image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "notice": noticeImageRequired})
		return
	}
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if err := m.SelectImage(req.Image); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(m.Snapshot()))
}

// Detect starts a detection; poll DetectionState for the outcome.
func (h *Handler) Detect(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if err := m.Detect(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snapshotResponse(m.Snapshot()))
}

func (h *Handler) ResetDetection(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	m.Reset()
	c.JSON(http.StatusOK, snapshotResponse(m.Snapshot()))
}
