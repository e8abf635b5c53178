package models

import "time"

// RunStatus — состояние запуска построения отчёта.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Terminal сообщает, что из статуса больше нет переходов.
func (s RunStatus) Terminal() bool { return s == RunSuccess || s == RunFailed }

// RunRecord — запись о запуске для пары (пользователь, область).
// Статус меняется только running -> success или running -> failed.
type RunRecord struct {
	ID              string    `json:"id"`
	ActorID         int64     `json:"actor_id"`
	ScopeKey        string    `json:"scope_key"`
	ChannelUsername string    `json:"channel_username"`
	Period          string    `json:"period"`
	StartedAt       time.Time `json:"started_at"`
	CreatedAt       time.Time `json:"created_at"`
	Status          RunStatus `json:"status"`
	Error           *string   `json:"error,omitempty"`
}
