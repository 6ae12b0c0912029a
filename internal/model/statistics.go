package model

// DocumentStatistics counts documents grouped by lifecycle status.
type DocumentStatistics struct {
	Total      int64 `json:"total"`
	Borradores int64 `json:"borradores"`
	EnRevision int64 `json:"en_revision"`
	Aprobados  int64 `json:"aprobados"`
	Rechazados int64 `json:"rechazados"`
	Obsoletos  int64 `json:"obsoletos"`
}
