package models

import "time"

// CommentNode — узел дерева комментариев для выгрузки.
type CommentNode struct {
	ID        int            `json:"comment_id"`
	AuthorID  *int64         `json:"author_telegram_id"`
	Timestamp time.Time      `json:"date"`
	Text      *string        `json:"text"`
	Reactions *Reactions     `json:"reactions"`
	Link      string         `json:"comment_link,omitempty"`
	Children  []*CommentNode `json:"replies"`
}

// ExportedPost — пост канала с деревом комментариев.
type ExportedPost struct {
	PostID      int            `json:"post_id"`
	PostLink    string         `json:"post_link"`
	PublishedAt time.Time      `json:"published_at"`
	PostText    *string        `json:"post_text"`
	Reactions   *Reactions     `json:"reactions"`
	Comments    []*CommentNode `json:"comments"`
}

// ChannelExport — результат выгрузки постов канала с комментариями за окно.
type ChannelExport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Channel     Peer           `json:"channel"`
	WindowFrom  time.Time      `json:"window_from"`
	WindowTo    time.Time      `json:"window_to"`
	Posts       []ExportedPost `json:"posts"`
}
