// Package export выгружает посты канала за окно вместе с деревьями комментариев.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"corecu_go/models"
	"corecu_go/pkg/metrics"
	"corecu_go/pkg/telegram/scanner"
	"corecu_go/pkg/telegram/tree"

	"go.uber.org/zap"
)

const DefaultRepliesPageSize = 100

// Fetcher — страницы канала и страницы комментариев к посту.
type Fetcher interface {
	scanner.PageFetcher
	FetchReplies(ctx context.Context, peer models.Peer, postID, cursor, limit int) ([]models.Message, error)
}

type Options struct {
	Scan            scanner.Options
	RepliesPageSize int
}

type Exporter struct {
	fetcher Fetcher
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics

	Now func() time.Time
}

func New(fetcher Fetcher, opts Options, log *zap.Logger, m *metrics.Metrics) *Exporter {
	if opts.RepliesPageSize <= 0 {
		opts.RepliesPageSize = DefaultRepliesPageSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{fetcher: fetcher, opts: opts, log: log.Named("export"), metrics: m, Now: time.Now}
}

func PostLink(username string, postID int) string {
	return fmt.Sprintf("https://t.me/%s/%d", username, postID)
}

func CommentLink(username string, postID, commentID int) string {
	return fmt.Sprintf("https://t.me/%s/%d?comment=%d", username, postID, commentID)
}

// Export проходит посты канала за окно, для постов с комментариями
// загружает все ответы и строит дерево. Посты возвращаются от старых к новым.
func (e *Exporter) Export(ctx context.Context, target models.PeerInfo, window scanner.Window) (*models.ChannelExport, error) {
	channel := target.Channel
	out := &models.ChannelExport{
		GeneratedAt: e.Now().UTC(),
		Channel:     channel,
		WindowFrom:  window.From,
		WindowTo:    window.To,
		Posts:       []models.ExportedPost{},
	}

	sc := scanner.New(e.fetcher, e.opts.Scan, e.log, e.metrics)
	res, err := sc.Scan(ctx, channel, window, func(m models.Message) error {
		post := models.ExportedPost{
			PostID:      m.ID,
			PostLink:    PostLink(channel.Username, m.ID),
			PublishedAt: m.Timestamp,
			Reactions:   m.Reactions,
			Comments:    []*models.CommentNode{},
		}
		if m.Text != "" {
			text := m.Text
			post.PostText = &text
		}
		if m.RepliesCount > 0 {
			flat, err := e.replies(ctx, channel, m.ID)
			if err != nil {
				return err
			}
			postID := m.ID
			post.Comments = tree.Build(flat, postID, func(id int) string {
				return CommentLink(channel.Username, postID, id)
			})
			if post.Comments == nil {
				post.Comments = []*models.CommentNode{}
			}
			e.log.Debug("комментарии поста загружены",
				zap.Int("post_id", m.ID),
				zap.Int("comments", len(flat)),
				zap.Int("roots", len(post.Comments)),
			)
		}
		out.Posts = append(out.Posts, post)
		e.metrics.ExportedPost()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("выгрузка @%s: %w", channel.Username, err)
	}

	sort.SliceStable(out.Posts, func(i, j int) bool {
		a, b := out.Posts[i], out.Posts[j]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.Before(b.PublishedAt)
		}
		return a.PostID < b.PostID
	})

	e.log.Info("выгрузка завершена",
		zap.String("channel", channel.Username),
		zap.Int("posts", len(out.Posts)),
		zap.Int("scanned", res.Scanned),
		zap.String("stop", string(res.Stop)),
	)
	return out, nil
}

// replies листает все комментарии поста от новых к старым.
func (e *Exporter) replies(ctx context.Context, channel models.Peer, postID int) ([]models.Message, error) {
	var all []models.Message
	cursor := 0
	for {
		page, err := e.fetcher.FetchReplies(ctx, channel, postID, cursor, e.opts.RepliesPageSize)
		if err != nil {
			return nil, fmt.Errorf("комментарии к посту %d: %w", postID, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)

		last := page[len(page)-1].ID
		if last <= 0 || (cursor != 0 && last >= cursor) {
			break
		}
		cursor = last
		if len(page) < e.opts.RepliesPageSize {
			break
		}
	}
	return all, nil
}

// FileName — имя файла выгрузки с меткой времени без двоеточий и точек.
func FileName(username string, at time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(at.UTC().Format("2006-01-02T15:04:05.000Z"))
	return fmt.Sprintf("%s_posts_with_threaded_comments_%s.json", username, stamp)
}

// WriteFile сохраняет выгрузку в dir и возвращает путь к файлу.
func WriteFile(dir string, exp *models.ChannelExport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("каталог выгрузки: %w", err)
	}
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(exp.Channel.Username, exp.GeneratedAt))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("запись %s: %w", path, err)
	}
	return path, nil
}
