// Package engagement строит рейтинг авторов комментариев по постам канала.
package engagement

import (
	"context"
	"sort"

	"corecu_go/models"
	"corecu_go/pkg/telegram/scanner"
)

// DefaultTopN — сколько авторов попадает в отчёт.
const DefaultTopN = 50

// Resolver определяет пост канала для сообщения обсуждения.
type Resolver interface {
	Resolve(ctx context.Context, startID int) (int, bool, error)
}

// Collector накапливает активность авторов в пределах одного запуска.
type Collector struct {
	resolver Resolver
	records  map[int64]*models.EngagementRecord
	order    []int64

	SkippedAuthors int
	Unattributed   int
}

func NewCollector(r Resolver) *Collector {
	return &Collector{resolver: r, records: make(map[int64]*models.EngagementRecord)}
}

// userAuthor возвращает ID автора, если сообщение написал пользователь.
// Сообщения от имени каналов и чатов в рейтинг не попадают.
func userAuthor(p models.AuthorPeer) (int64, bool) {
	switch a := p.(type) {
	case models.UserPeer:
		return a.ID, true
	case models.ChannelPeer, models.ChatPeer:
		return 0, false
	default:
		return 0, false
	}
}

// Add учитывает одно сообщение окна.
func (c *Collector) Add(ctx context.Context, m models.Message) error {
	authorID, ok := userAuthor(m.Author)
	if !ok {
		c.SkippedAuthors++
		return nil
	}

	start := m.ThreadRootID
	if start <= 0 {
		start = m.ParentID
	}
	if start <= 0 {
		c.Unattributed++
		return nil
	}

	postID, ok, err := c.resolver.Resolve(ctx, start)
	if err != nil {
		return err
	}
	if !ok {
		c.Unattributed++
		return nil
	}

	rec, exists := c.records[authorID]
	if !exists {
		rec = &models.EngagementRecord{AuthorID: authorID, DistinctPostIDs: make(map[int]struct{})}
		c.records[authorID] = rec
		c.order = append(c.order, authorID)
	}
	rec.CommentCount++
	rec.DistinctPostIDs[postID] = struct{}{}
	if rec.Username == "" && m.AuthorUsername != "" {
		rec.Username = m.AuthorUsername
	}
	return nil
}

// Records возвращает записи в порядке первого появления автора.
func (c *Collector) Records() []models.EngagementRecord {
	out := make([]models.EngagementRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.records[id])
	}
	return out
}

// Report сортирует авторов по числу комментариев; при равенстве остаётся порядок
// первого появления, других ключей сортировки нет.
func (c *Collector) Report(window scanner.Window, topN int) models.EngagementReport {
	if topN <= 0 {
		topN = DefaultTopN
	}
	records := c.Records()
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CommentCount > records[j].CommentCount
	})
	if len(records) > topN {
		records = records[:topN]
	}

	report := models.EngagementReport{
		Type:       models.ReportOK,
		WindowFrom: window.From,
		WindowTo:   window.To,
		Items:      make([]models.ReportItem, 0, len(records)),
	}
	for _, r := range records {
		report.Items = append(report.Items, models.ReportItem{
			AuthorID:                 r.AuthorID,
			Username:                 r.Username,
			CommentCount:             r.CommentCount,
			PostCount:                len(r.DistinctPostIDs),
			AvgCommentsPerActivePost: r.AvgCommentsPerActivePost(),
		})
	}
	if len(report.Items) == 0 {
		report.Type = models.ReportNoData
	}
	return report
}

// Aggregate строит отчёт по готовому списку сообщений окна.
func Aggregate(ctx context.Context, r Resolver, msgs []models.Message, window scanner.Window, topN int) (models.EngagementReport, error) {
	c := NewCollector(r)
	for _, m := range msgs {
		if err := c.Add(ctx, m); err != nil {
			return models.EngagementReport{}, err
		}
	}
	return c.Report(window, topN), nil
}
