package handler

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"facescan/internal/auth"
	"facescan/internal/cloudinary"
	"facescan/internal/dashboard"
	"facescan/internal/history"
	"facescan/internal/metrics"
	"facescan/internal/roster"
)

// ---------- Dashboard ----------

func (h *Handler) Layout(c *gin.Context) {
	c.JSON(http.StatusOK, dashboard.LayoutFor(auth.SessionFrom(c).Role()))
}

func (h *Handler) Dashboard(c *gin.Context) {
	c.JSON(http.StatusOK, dashboard.Summarize(h.roster.Count(), h.history.List(), h.now()))
}

// ---------- Students ----------

func (h *Handler) ListStudents(c *gin.Context) {
	students := h.roster.Search(c.Query("query"))
	c.JSON(http.StatusOK, gin.H{
		"students": students,
		"total":    len(students),
		"programs": roster.Programs,
	})
}

type addStudentRequest struct {
	Name    string `json:"name"`
	NIM     string `json:"nim"`
	Program string `json:"program"`
	Photo   string `json:"photo"`
}

// AddStudent validates and stores a student. An inline photo is uploaded
// to Cloudinary when configured and enrolled with the face service when
// one is wired.
func (h *Handler) AddStudent(c *gin.Context) {
	var req addStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "notice": noticeValidation})
		return
	}

	in, err := roster.Validate(roster.NewStudent{Name: req.Name, NIM: req.NIM, Program: req.Program, Photo: req.Photo})
	if err != nil {
		abortWithError(c, err)
		return
	}

	if h.cloud != nil && cloudinary.IsDataURI(in.Photo) {
		res, err := h.cloud.UploadDataURI(c.Request.Context(), in.Photo)
		if err != nil {
			h.log.Error("cloudinary upload failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "photo upload failed", "notice": noticeUploadFailed})
			return
		}
		in.Photo = res.SecureURL
	}

	st, err := h.roster.Add(in)
	if err != nil {
		abortWithError(c, err)
		return
	}
	metrics.StudentsAdded.Inc()

	if h.enroller != nil && req.Photo != "" {
		// enrollment can be retried later; the student stays registered
		if _, err := h.enroller.Enroll(c.Request.Context(), st.NIM, req.Photo, st.Name); err != nil {
			h.log.Warn("face enroll failed", zap.String("nim", st.NIM), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"student": st, "notice": noticeStudentAdded})
}

// ImportStudents acknowledges an Excel import. Parsing is not implemented;
// nothing is added.
func (h *Handler) ImportStudents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"imported": 0, "notice": noticeImported})
}

// ---------- History ----------

func parseHistoryQuery(c *gin.Context) (history.Filter, history.Direction, error) {
	status, err := history.ParseStatusFilter(c.Query("status"))
	if err != nil {
		return history.Filter{}, "", err
	}
	dir, err := history.ParseDirection(c.Query("sort"))
	if err != nil {
		return history.Filter{}, "", err
	}
	f := history.Filter{Search: c.Query("search"), Status: status}
	if v := c.Query("date"); v != "" {
		f.Date, err = time.ParseInLocation(time.DateOnly, v, time.Local)
		if err != nil {
			return history.Filter{}, "", fmt.Errorf("invalid date %q", v)
		}
	}
	return f, dir, nil
}

func (h *Handler) ListHistory(c *gin.Context) {
	f, dir, err := parseHistoryQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries := h.history.Query(f, dir)
	c.JSON(http.StatusOK, gin.H{
		"entries":   entries,
		"total":     len(entries),
		"sort":      dir,
		"next_sort": dir.Toggle(),
	})
}

func (h *Handler) HistoryStats(c *gin.Context) {
	c.JSON(http.StatusOK, history.Summarize(h.history.List()))
}

// HistoryReport writes the filtered history as CSV.
func (h *Handler) HistoryReport(c *gin.Context) {
	f, dir, err := parseHistoryQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries := h.history.Query(f, dir)

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="riwayat.csv"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"id", "timestamp", "student_name", "student_id", "status", "accuracy", "photo_url"})
	for _, e := range entries {
		_ = w.Write([]string{
			strconv.Itoa(e.ID),
			e.Timestamp,
			deref(e.StudentName),
			deref(e.StudentID),
			string(e.Status),
			deref(e.Accuracy),
			e.PhotoURL,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.log.Warn("write history report", zap.Error(err))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
