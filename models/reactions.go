package models

// Типы реакций в выгрузке.
const (
	ReactionEmoji       = "emoji"
	ReactionCustomEmoji = "custom_emoji"
	ReactionUnknown     = "unknown"
)

// Reactions — агрегированные реакции сообщения: общее число и разбивка по типам.
type Reactions struct {
	Total int            `json:"total"`
	Items []ReactionItem `json:"items"`
}

// ReactionItem — одна строка разбивки реакций.
type ReactionItem struct {
	Type       string `json:"type"`
	Value      string `json:"value,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Raw        string `json:"raw,omitempty"`
	Count      int    `json:"count"`
}
