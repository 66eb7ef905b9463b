package navigation

import "facescan/internal/session"

// MenuItem is one sidebar entry.
type MenuItem struct {
	Path  string `json:"path"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

var (
	itemDashboard = MenuItem{Path: PathHome, Label: "Dashboard", Icon: "user"}
	itemStudents  = MenuItem{Path: PathStudents, Label: "Mahasiswa", Icon: "users"}
	itemDetection = MenuItem{Path: PathDetection, Label: "Deteksi Wajah", Icon: "camera"}
	itemHistory   = MenuItem{Path: PathHistory, Label: "Riwayat", Icon: "history"}
)

// Menu returns the sidebar entries for a role. Mahasiswa is admin only.
func Menu(role session.Role) []MenuItem {
	switch role {
	case session.RoleAdmin:
		return []MenuItem{itemDashboard, itemStudents, itemDetection, itemHistory}
	default:
		return []MenuItem{itemDashboard, itemDetection, itemHistory}
	}
}
