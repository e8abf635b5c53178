package models

import "time"

// Типы отчёта о вовлечённости.
const (
	ReportOK     = "ok"
	ReportNoData = "no-data"
)

// EngagementRecord накапливает активность одного автора в рамках запуска.
type EngagementRecord struct {
	AuthorID        int64
	Username        string
	CommentCount    int
	DistinctPostIDs map[int]struct{}
}

// AvgCommentsPerActivePost — среднее число комментариев на пост, под которым автор писал.
func (r EngagementRecord) AvgCommentsPerActivePost() float64 {
	if len(r.DistinctPostIDs) == 0 {
		return 0
	}
	return float64(r.CommentCount) / float64(len(r.DistinctPostIDs))
}

// ReportItem — строка итогового отчёта.
type ReportItem struct {
	AuthorID                 int64   `json:"telegram_user_id"`
	Username                 string  `json:"username,omitempty"`
	CommentCount             int     `json:"comments_count"`
	PostCount                int     `json:"posts_count"`
	AvgCommentsPerActivePost float64 `json:"avg_comments_per_active_post"`
}

// EngagementReport — рейтинг авторов комментариев за окно.
// Partial выставляется, когда сканирование остановил предохранитель по числу сообщений.
type EngagementReport struct {
	Type       string       `json:"type"`
	WindowFrom time.Time    `json:"window_from"`
	WindowTo   time.Time    `json:"window_to"`
	Items      []ReportItem `json:"items"`
	Scanned    int          `json:"scanned"`
	Partial    bool         `json:"partial"`
}
