package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"facescan/internal/detection"
	"facescan/internal/roster"
	"facescan/internal/session"
)

// Toast variants shown by the dashboard.
const (
	SeverityDefault     = "default"
	SeverityDestructive = "destructive"
)

// Notice is the toast attached to a response.
type Notice struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

var (
	noticeLoginOK       = Notice{"Login berhasil", "Selamat datang di Face Scan Admin Panel", SeverityDefault}
	noticeLoginFailed   = Notice{"Login gagal", "Silakan periksa kembali email dan password Anda", SeverityDestructive}
	noticeValidation    = Notice{"Validasi Gagal", "Semua field harus diisi", SeverityDestructive}
	noticeBadProgram    = Notice{"Validasi Gagal", "Program studi tidak dikenal", SeverityDestructive}
	noticeStudentAdded  = Notice{"Berhasil", "Data mahasiswa berhasil ditambahkan", SeverityDefault}
	noticeImported      = Notice{"Import Berhasil", "Data mahasiswa berhasil diimport dari Excel", SeverityDefault}
	noticeImageRequired = Notice{"Gambar diperlukan", "Pilih gambar terlebih dahulu untuk deteksi wajah", SeverityDestructive}
	noticeBusy          = Notice{"Deteksi berjalan", "Tunggu hingga deteksi selesai", SeverityDestructive}
	noticeNotFound      = Notice{"Wajah Tidak Ditemukan", "Tidak ada kecocokan dengan data mahasiswa", SeverityDestructive}
	noticeUploadFailed  = Notice{"Upload gagal", "Foto mahasiswa gagal diunggah", SeverityDestructive}
	noticeInternal      = Notice{"Terjadi kesalahan", "Silakan coba lagi", SeverityDestructive}
)

func noticeMatched(name string) Notice {
	return Notice{"Wajah Terdeteksi", "Mahasiswa ditemukan: " + name, SeverityDefault}
}

// detectionNotice returns the toast for a finished detection, if any.
func detectionNotice(s detection.Snapshot) *Notice {
	switch s.Status {
	case detection.StatusMatch:
		if s.Student != nil {
			n := noticeMatched(s.Student.Name)
			return &n
		}
	case detection.StatusNotFound:
		n := noticeNotFound
		return &n
	}
	return nil
}

// noticeFor maps a domain error to a status code and toast.
func noticeFor(err error) (int, Notice) {
	switch {
	case errors.Is(err, session.ErrMissingCredentials):
		return http.StatusUnauthorized, noticeLoginFailed
	case errors.Is(err, session.ErrUnknownRole):
		return http.StatusBadRequest, noticeLoginFailed
	case errors.Is(err, roster.ErrMissingField):
		return http.StatusBadRequest, noticeValidation
	case errors.Is(err, roster.ErrUnknownProgram):
		return http.StatusBadRequest, noticeBadProgram
	case errors.Is(err, detection.ErrImageRequired):
		return http.StatusBadRequest, noticeImageRequired
	case errors.Is(err, detection.ErrDetectionInProgress), errors.Is(err, detection.ErrClosed):
		return http.StatusConflict, noticeBusy
	}
	return http.StatusInternalServerError, noticeInternal
}

func abortWithError(c *gin.Context, err error) {
	status, n := noticeFor(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "notice": n})
}
