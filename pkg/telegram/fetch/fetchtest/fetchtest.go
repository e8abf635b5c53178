// Package fetchtest содержит ленту в памяти и фиктивное ожидание для тестов.
package fetchtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"corecu_go/models"
)

// Call — запись об одном обращении к ленте.
type Call struct {
	Op     string
	PeerID int64
	ID     int
	Cursor int
	Limit  int
}

// Feed хранит сообщения по ID пира. История отдаётся от новых к старым,
// курсор работает как offset_id: возвращаются сообщения с ID меньше курсора.
type Feed struct {
	mu      sync.Mutex
	history map[int64][]models.Message
	replies map[int64]map[int][]models.Message
	peers   map[string]models.PeerInfo
	calls   []Call
	// Fail позволяет вернуть ошибку для n-го (с нуля) вызова операции.
	Fail   func(op string, n int) error
	counts map[string]int
}

func NewFeed() *Feed {
	return &Feed{
		history: make(map[int64][]models.Message),
		replies: make(map[int64]map[int][]models.Message),
		peers:   make(map[string]models.PeerInfo),
		counts:  make(map[string]int),
	}
}

// Add добавляет сообщения в историю пира.
func (f *Feed) Add(peerID int64, msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := append(f.history[peerID], msgs...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	f.history[peerID] = list
}

// AddReplies добавляет ответы на пост канала.
func (f *Feed) AddReplies(peerID int64, postID int, msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replies[peerID] == nil {
		f.replies[peerID] = make(map[int][]models.Message)
	}
	list := append(f.replies[peerID][postID], msgs...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	f.replies[peerID][postID] = list
}

// AddPeer регистрирует канал под идентификатором вида "@name".
func (f *Feed) AddPeer(identifier string, info models.PeerInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[identifier] = info
}

// Calls возвращает копию журнала вызовов.
func (f *Feed) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsOf возвращает вызовы одной операции.
func (f *Feed) CallsOf(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Feed) record(c Call) error {
	f.mu.Lock()
	n := f.counts[c.Op]
	f.counts[c.Op]++
	f.calls = append(f.calls, c)
	fail := f.Fail
	f.mu.Unlock()
	if fail != nil {
		return fail(c.Op, n)
	}
	return nil
}

func (f *Feed) FetchMessages(ctx context.Context, peer models.Peer, cursor, limit int) ([]models.Message, error) {
	if err := f.record(Call{Op: "history", PeerID: peer.ID, Cursor: cursor, Limit: limit}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return page(f.history[peer.ID], cursor, limit), nil
}

func (f *Feed) FetchMessageByID(ctx context.Context, peer models.Peer, id int) (*models.Message, error) {
	if err := f.record(Call{Op: "by_id", PeerID: peer.ID, ID: id}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.history[peer.ID] {
		if m.ID == id {
			msg := m
			return &msg, nil
		}
	}
	return nil, nil
}

func (f *Feed) FetchReplies(ctx context.Context, peer models.Peer, msgID, cursor, limit int) ([]models.Message, error) {
	if err := f.record(Call{Op: "replies", PeerID: peer.ID, ID: msgID, Cursor: cursor, Limit: limit}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return page(f.replies[peer.ID][msgID], cursor, limit), nil
}

func (f *Feed) ResolvePeer(ctx context.Context, identifier string) (models.PeerInfo, error) {
	if err := f.record(Call{Op: "resolve"}); err != nil {
		return models.PeerInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.peers[identifier]
	if !ok {
		return models.PeerInfo{}, fmt.Errorf("%s: %w", identifier, models.ErrPeerNotFound)
	}
	return info, nil
}

func page(list []models.Message, cursor, limit int) []models.Message {
	var out []models.Message
	for _, m := range list {
		if cursor > 0 && m.ID >= cursor {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Sleeper запоминает запрошенные паузы и не ждёт.
type Sleeper struct {
	mu    sync.Mutex
	Slept []time.Duration
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.Slept = append(s.Slept, d)
	s.mu.Unlock()
	return ctx.Err()
}
