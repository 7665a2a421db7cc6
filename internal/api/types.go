package api

// AuditLogsQuery configures a GetAuditLogs request.
type AuditLogsQuery struct {
	Page int    // 0-indexed
	Size int    // Page size; the server default applies when 0
	Sort string // e.g. "timestamp,desc"
}
