package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"corecu_go/models"
	"corecu_go/pkg/telegram/fetch"
	"corecu_go/pkg/telegram/fetch/fetchtest"
	"corecu_go/pkg/telegram/scanner"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time { return now.Add(-time.Duration(d) * 24 * time.Hour) }

func newExporter(feed *fetchtest.Feed) *Exporter {
	f := fetch.New(feed, fetch.DefaultPolicy(), fetch.WithSleeper(&fetchtest.Sleeper{}))
	e := New(f, Options{RepliesPageSize: 2}, nil, nil)
	e.Now = func() time.Time { return now }
	return e
}

func target() models.PeerInfo {
	return models.PeerInfo{
		Channel:    models.Peer{ID: 100, Username: "chan"},
		Discussion: models.Peer{ID: 200},
	}
}

func TestExport(t *testing.T) {
	feed := fetchtest.NewFeed()
	feed.Add(100,
		models.Message{ID: 5, Timestamp: daysAgo(2), Text: "пост 5", RepliesCount: 3},
		models.Message{ID: 4, Timestamp: daysAgo(3)},
		models.Message{ID: 3, Timestamp: daysAgo(40), RepliesCount: 1},
	)
	feed.AddReplies(100, 5,
		models.Message{ID: 10, ParentID: 900, ThreadRootID: 900, Author: models.UserPeer{ID: 1}, Text: "первый", Timestamp: daysAgo(2)},
		models.Message{ID: 11, ParentID: 10, ThreadRootID: 900, Author: models.UserPeer{ID: 2}, Timestamp: daysAgo(1)},
		models.Message{ID: 12, ParentID: 900, ThreadRootID: 900, Author: models.ChannelPeer{ID: 100}, Timestamp: daysAgo(1)},
	)

	exp, err := newExporter(feed).Export(context.Background(), target(), scanner.LastDays(now, 30))
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(exp.Posts) != 2 || exp.Posts[0].PostID != 4 || exp.Posts[1].PostID != 5 {
		t.Fatalf("ожидались посты 4 и 5 от старых к новым: %+v", exp.Posts)
	}
	if !exp.GeneratedAt.Equal(now) {
		t.Fatalf("неверное время выгрузки: %v", exp.GeneratedAt)
	}

	empty := exp.Posts[0]
	if empty.PostText != nil || empty.Comments == nil || len(empty.Comments) != 0 {
		t.Fatalf("пост без текста и комментариев: %+v", empty)
	}

	post := exp.Posts[1]
	if post.PostLink != "https://t.me/chan/5" || post.PostText == nil || *post.PostText != "пост 5" {
		t.Fatalf("неверный пост: %+v", post)
	}
	if len(post.Comments) != 2 || post.Comments[0].ID != 12 || post.Comments[1].ID != 10 {
		t.Fatalf("неверные корни: %+v", post.Comments)
	}
	first := post.Comments[1]
	if len(first.Children) != 1 || first.Children[0].ID != 11 {
		t.Fatalf("ответ 11 должен быть вложен в 10: %+v", first.Children)
	}
	if first.Children[0].Link != "https://t.me/chan/5?comment=11" {
		t.Fatalf("неверная ссылка: %s", first.Children[0].Link)
	}
	if post.Comments[0].AuthorID == nil || *post.Comments[0].AuthorID != 100 {
		t.Fatalf("неверный автор: %v", post.Comments[0].AuthorID)
	}

	replies := feed.CallsOf("replies")
	if len(replies) != 2 || replies[0].Cursor != 0 || replies[1].Cursor != 11 {
		t.Fatalf("неверная пагинация комментариев: %+v", replies)
	}
}

func TestExportReplyError(t *testing.T) {
	feed := fetchtest.NewFeed()
	feed.Add(100, models.Message{ID: 5, Timestamp: daysAgo(1), RepliesCount: 1})
	boom := errors.New("CHANNEL_PRIVATE")
	feed.Fail = func(op string, n int) error {
		if op == "replies" {
			return boom
		}
		return nil
	}
	f := fetch.New(feed, fetch.Policy{MaxAttempts: 1}, fetch.WithSleeper(&fetchtest.Sleeper{}))
	e := New(f, Options{}, nil, nil)

	if _, err := e.Export(context.Background(), target(), scanner.LastDays(now, 30)); !errors.Is(err, boom) {
		t.Fatalf("ожидалась ошибка комментариев, получено %v", err)
	}
}

func TestFileName(t *testing.T) {
	got := FileName("chan", time.Date(2024, 5, 1, 10, 2, 3, 45e6, time.UTC))
	want := "chan_posts_with_threaded_comments_2024-05-01T10-02-03-045Z.json"
	if got != want {
		t.Fatalf("FileName = %q, ожидалось %q", got, want)
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	text := "привет"
	exp := &models.ChannelExport{
		GeneratedAt: now,
		Channel:     models.Peer{Username: "chan"},
		Posts: []models.ExportedPost{{
			PostID:   1,
			PostText: &text,
			Comments: []*models.CommentNode{{ID: 2, Link: CommentLink("chan", 1, 2), Children: []*models.CommentNode{}}},
		}},
	}
	path, err := WriteFile(dir, exp)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "chan_posts_with_threaded_comments_") {
		t.Fatalf("неверное имя файла: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("файл не прочитан: %v", err)
	}
	var back models.ChannelExport
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("неверный JSON: %v", err)
	}
	if len(back.Posts) != 1 || back.Posts[0].Comments[0].Link != "https://t.me/chan/1?comment=2" {
		t.Fatalf("неверное содержимое: %s", data)
	}
}
