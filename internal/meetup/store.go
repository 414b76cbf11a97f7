// Package meetup はミートアップの一覧と参加状態を管理するストアを提供する。
package meetup

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/meetup/internal/geo"
	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/security"
)

// 作成時の入力制約。
const (
	MaxTitleLength       = 40
	MaxDescriptionLength = 500
	MaxPlaceNameLength   = 60
	MinCapacity          = 2
	MaxCapacity          = 100
	MinDurationMin       = 10
	MaxDurationMin       = 24 * 60
)

// Listener は一覧の変更通知を受け取る関数。渡された一覧は購読者間で共有されるため変更しないこと。
type Listener func([]model.Meetup)

// Ranked は基準地点からの距離付きのミートアップ。
type Ranked struct {
	Meetup     model.Meetup `json:"meetup"`
	DistanceKm float64      `json:"distanceKm"`
	Distance   string       `json:"distance"`
}

// located はgeo.Locatableを満たすためのラッパー。
type located model.Meetup

func (l located) Location() geo.Point { return geo.Point{Lat: l.Lat, Lng: l.Lng} }

// Store はミートアップ一覧、保持中の現在地、カテゴリフィルタを持つ。
type Store struct {
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector

	mu         sync.Mutex
	meetups    []model.Meetup
	myLocation *geo.Point
	category   model.Category
	listeners  map[int]Listener
	nextID     int

	notifyMu sync.Mutex

	now   func() time.Time
	newID func() string
}

// NewStore は空のStoreを生成する。mがnilの場合は記録しない。
func NewStore(sanitizer security.TextSanitizer, m metrics.MetricsCollector) *Store {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Store{
		sanitizer: sanitizer,
		metrics:   m,
		category:  model.CategoryAll,
		listeners: make(map[int]Listener),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Create は入力を検証してミートアップを作成し、一覧の先頭に追加する。
// 並び順は開始日時ではなく作成順（新しいものが先頭）。
func (s *Store) Create(input model.MeetupInput) (string, error) {
	m, err := s.build(input)
	if err != nil {
		return "", err
	}

	s.publish(func() bool {
		s.meetups = append([]model.Meetup{m}, s.meetups...)
		return true
	})

	s.metrics.RecordMeetupCreated()
	slog.Info("meetup created",
		slog.String("meetup_id", m.ID),
		slog.String("category", string(m.Category)),
		slog.Int("capacity", m.Capacity),
	)
	return m.ID, nil
}

// build は入力を正規化・検証してMeetupを組み立てる。
func (s *Store) build(input model.MeetupInput) (model.Meetup, error) {
	title := security.CleanText(s.sanitizer, input.Title, 0)
	if n := utf8.RuneCountInString(title); n == 0 || n > MaxTitleLength {
		return model.Meetup{}, model.NewInvalidMeetupError(fmt.Sprintf("タイトルは1〜%d文字で入力してください", MaxTitleLength))
	}
	if !input.Category.Valid() {
		return model.Meetup{}, model.NewInvalidMeetupError("カテゴリが不正です")
	}
	if input.Capacity < MinCapacity || input.Capacity > MaxCapacity {
		return model.Meetup{}, model.NewInvalidMeetupError(fmt.Sprintf("定員は%d〜%d人で指定してください", MinCapacity, MaxCapacity))
	}
	if input.DurationMin < MinDurationMin || input.DurationMin > MaxDurationMin {
		return model.Meetup{}, model.NewInvalidMeetupError(fmt.Sprintf("所要時間は%d〜%d分で指定してください", MinDurationMin, MaxDurationMin))
	}
	if !validCoordinate(input.Lat, 90) || !validCoordinate(input.Lng, 180) {
		return model.Meetup{}, model.NewInvalidMeetupError("位置情報が不正です")
	}
	if input.StartsAt.IsZero() {
		return model.Meetup{}, model.NewInvalidMeetupError("開始日時を指定してください")
	}

	return model.Meetup{
		ID:          s.newID(),
		Title:       title,
		Description: security.CleanText(s.sanitizer, input.Description, MaxDescriptionLength),
		Category:    input.Category,
		StartsAt:    input.StartsAt,
		DurationMin: input.DurationMin,
		Capacity:    input.Capacity,
		JoinedCount: 0,
		JoinStatus:  model.JoinStatusNone,
		PlaceName:   security.CleanText(s.sanitizer, input.PlaceName, MaxPlaceNameLength),
		Lat:         input.Lat,
		Lng:         input.Lng,
		HostID:      strings.TrimSpace(input.HostID),
		CreatedAt:   s.now(),
	}, nil
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}

// Join はミートアップに参加する。
//
// 見つからない、参加済み、満員のいずれかの場合は何もせずfalseを返す（理由は返さない）。
// 判定と更新は同じロック区間で行うため、並行した参加で定員を超えることはない。
func (s *Store) Join(id string) bool {
	joined := false
	s.publish(func() bool {
		i := s.indexOf(id)
		if i < 0 {
			return false
		}
		m := &s.meetups[i]
		if m.JoinStatus == model.JoinStatusJoined || m.Remaining() <= 0 {
			return false
		}
		m.JoinedCount++
		m.JoinStatus = model.JoinStatusJoined
		joined = true
		return true
	})

	s.metrics.RecordJoin(joined)
	if joined {
		slog.Info("meetup joined", slog.String("meetup_id", id))
	} else {
		slog.Debug("join ignored", slog.String("meetup_id", id))
	}
	return joined
}

// Seed は一覧を置き換える。ローカル実行用のモックデータ投入に使う。
func (s *Store) Seed(meetups []model.Meetup) {
	cp := make([]model.Meetup, len(meetups))
	copy(cp, meetups)
	s.publish(func() bool {
		s.meetups = cp
		return true
	})
}

// SetMyLocation は現在地を保持する。
func (s *Store) SetMyLocation(lat, lng float64) error {
	if !validCoordinate(lat, 90) || !validCoordinate(lng, 180) {
		return model.NewInvalidRequestError("位置情報が範囲外です")
	}
	s.mu.Lock()
	s.myLocation = &geo.Point{Lat: lat, Lng: lng}
	s.mu.Unlock()
	return nil
}

// MyLocation は保持中の現在地を返す。
func (s *Store) MyLocation() (geo.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.myLocation == nil {
		return geo.Point{}, false
	}
	return *s.myLocation, true
}

// SetCategory はカテゴリフィルタを設定する。空文字列はallとして扱う。
func (s *Store) SetCategory(c model.Category) error {
	if c == "" {
		c = model.CategoryAll
	}
	if c != model.CategoryAll && !c.Valid() {
		return model.NewInvalidRequestError("カテゴリが不正です")
	}
	s.mu.Lock()
	s.category = c
	s.mu.Unlock()
	return nil
}

// Category は現在のカテゴリフィルタを返す。
func (s *Store) Category() model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.category
}

// List は全件のコピーを返す。
func (s *Store) List() []model.Meetup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Get はIDでミートアップを取得する。
func (s *Store) Get(id string) (model.Meetup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.Meetup{}, false
	}
	return s.meetups[i], true
}

// Filtered は保持中のカテゴリで絞り込んだ一覧を返す。
func (s *Store) Filtered() []model.Meetup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filteredLocked()
}

// Nearby は保持中の現在地から半径radiusKm以内のミートアップを近い順に返す。
// カテゴリフィルタが適用される。現在地が未設定の場合は空を返す。
func (s *Store) Nearby(radiusKm float64) []Ranked {
	s.mu.Lock()
	if s.myLocation == nil {
		s.mu.Unlock()
		return []Ranked{}
	}
	origin := *s.myLocation
	items := s.filteredLocked()
	s.mu.Unlock()

	locs := make([]located, len(items))
	for i, m := range items {
		locs[i] = located(m)
	}
	ranked := geo.Nearby(origin, locs, radiusKm)

	out := make([]Ranked, len(ranked))
	for i, r := range ranked {
		out[i] = Ranked{
			Meetup:     model.Meetup(r.Item),
			DistanceKm: r.DistanceKm,
			Distance:   geo.FormatDistance(r.DistanceKm),
		}
	}
	return out
}

// Subscribe は一覧の変更購読を登録し、解除用の関数を返す。
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// publish はロック下でmutateを実行し、変更があればロック解放後に通知する。
func (s *Store) publish(mutate func() bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !mutate() {
		s.mu.Unlock()
		return
	}
	snap := s.copyLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.meetups {
		if s.meetups[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) copyLocked() []model.Meetup {
	cp := make([]model.Meetup, len(s.meetups))
	copy(cp, s.meetups)
	return cp
}

func (s *Store) filteredLocked() []model.Meetup {
	if s.category == "" || s.category == model.CategoryAll {
		return s.copyLocked()
	}
	out := make([]model.Meetup, 0, len(s.meetups))
	for _, m := range s.meetups {
		if m.Category == s.category {
			out = append(out, m)
		}
	}
	return out
}
