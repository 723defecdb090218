package protocol

import "fmt"

// Hive routes.
const (
	PathCheckin       = "/wasp/checkin/{port}"
	PathHeartbeat     = "/wasp/heartbeat/{port}"
	PathList          = "/wasp/list"
	PathBoopSnoots    = "/wasp/boop/snoots"
	PathReportIn      = "/wasp/reportin/{id}"
	PathReportFailed  = "/wasp/reportin/{id}/failed"
	PathPoke          = "/hive/poke"
	PathHiveCeasefire = "/hive/ceasefire"
	PathTorch         = "/hive/torch"
	PathTorchLocal    = "/hive/torch/local"
	PathStatus        = "/hive/status"
	PathStatusDone    = "/hive/status/done"
	PathReport        = "/hive/status/report"
	PathReportField   = "/hive/status/report/{field}"
	PathSpawnLocal    = "/hive/spawn/local/{amount}"
)

// Wasp routes.
const (
	PathFire         = "/fire"
	PathDie          = "/die"
	PathBoop         = "/boop"
	PathCeasefire    = "/ceasefire"
	PathBattleReport = "/battlereport"
)

func CheckinPath(port int) string   { return fmt.Sprintf("wasp/checkin/%d", port) }
func HeartbeatPath(port int) string { return fmt.Sprintf("wasp/heartbeat/%d", port) }
func ReportInPath(id string) string { return "wasp/reportin/" + id }
func ReportFailedPath(id string) string {
	return "wasp/reportin/" + id + "/failed"
}
