// Package review はミートアップのレビューを管理するストアを提供する。
//
// レビューは (meetupID, authorID) の組につき最大1件で、同じ組への投稿は上書きになる。
package review

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/security"
)

// 入力の制約。
const (
	MinRating     = 1
	MaxRating     = 5
	DefaultRating = 5
	MaxTextLength = 200
)

// Author はレビューの投稿者。
type Author struct {
	ID   string
	Name string
}

// AuthorProvider は「自分」として投稿する投稿者を返す。
type AuthorProvider interface {
	CurrentAuthor() (Author, bool)
}

// AuthorFunc は関数をAuthorProviderとして使うためのアダプタ。
type AuthorFunc func() (Author, bool)

// CurrentAuthor はAuthorProviderを実装する。
func (f AuthorFunc) CurrentAuthor() (Author, bool) { return f() }

// StaticAuthor は常に同じ投稿者を返す。
type StaticAuthor Author

// CurrentAuthor はAuthorProviderを実装する。
func (a StaticAuthor) CurrentAuthor() (Author, bool) { return Author(a), a.ID != "" }

// Listener はレビュー一覧の変更通知を受け取る関数。渡された一覧は変更しないこと。
type Listener func([]model.Review)

type reviewKey struct {
	meetupID string
	authorID string
}

// Store はレビュー一覧を保持する。
// 一覧は新しいものが先頭。indexは (meetupID, authorID) から
// 挿入された通し番号を引き、一覧上の位置は len-1-seq で求める。
type Store struct {
	author    AuthorProvider
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector

	mu        sync.Mutex
	reviews   []model.Review
	index     map[reviewKey]int
	listeners map[int]Listener
	nextID    int

	notifyMu sync.Mutex

	now   func() time.Time
	newID func() string
}

// NewStore は空のStoreを生成する。mがnilの場合は記録しない。
func NewStore(author AuthorProvider, sanitizer security.TextSanitizer, m metrics.MetricsCollector) *Store {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Store{
		author:    author,
		sanitizer: sanitizer,
		metrics:   m,
		index:     make(map[reviewKey]int),
		listeners: make(map[int]Listener),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// AddOrUpdateMyReview は現在の投稿者としてレビューを投稿する。
// 投稿者がいない場合はUNAUTHORIZEDを返す。
func (s *Store) AddOrUpdateMyReview(meetupID string, rating float64, text string) (string, error) {
	a, ok := s.author.CurrentAuthor()
	if !ok {
		return "", model.NewUnauthorizedError()
	}
	return s.AddOrUpdate(meetupID, a, rating, text)
}

// AddOrUpdate は指定の投稿者でレビューをアップサートし、レビューIDを返す。
//
// 評価は非有限値なら5、それ以外は四捨五入して1〜5に丸める。
// 本文はマークアップを除去してtrimし、200文字に切り詰める。
// 既存の組は位置を保ったまま評価・本文・日時を更新し、新規は先頭に追加する。
func (s *Store) AddOrUpdate(meetupID string, author Author, rating float64, text string) (string, error) {
	if meetupID == "" {
		return "", model.NewInvalidRequestError("meetupId is required")
	}
	if author.ID == "" {
		return "", model.NewUnauthorizedError()
	}

	r := NormalizeRating(rating)
	body := security.CleanText(s.sanitizer, text, MaxTextLength)
	key := reviewKey{meetupID: meetupID, authorID: author.ID}

	var id string
	inserted := false
	s.publish(func() {
		now := s.now()
		if seq, ok := s.index[key]; ok {
			rv := &s.reviews[s.position(seq)]
			rv.Rating = r
			rv.Text = body
			rv.CreatedAt = now
			id = rv.ID
			return
		}
		rv := model.Review{
			ID:         s.newID(),
			MeetupID:   meetupID,
			AuthorID:   author.ID,
			AuthorName: author.Name,
			Rating:     r,
			Text:       body,
			CreatedAt:  now,
		}
		s.reviews = append([]model.Review{rv}, s.reviews...)
		s.index[key] = len(s.reviews) - 1
		id = rv.ID
		inserted = true
	})

	s.metrics.RecordReviewUpsert(inserted)
	slog.Info("review saved",
		slog.String("meetup_id", meetupID),
		slog.String("review_id", id),
		slog.Bool("inserted", inserted),
		slog.Int("rating", r),
	)
	return id, nil
}

// NormalizeRating は評価を1〜5の整数に丸める。非有限値は5。
func NormalizeRating(rating float64) int {
	if math.IsNaN(rating) || math.IsInf(rating, 0) {
		return DefaultRating
	}
	// 範囲外のfloat→int変換は実装依存のため、丸めと範囲制限はfloatのまま行う
	r := math.Round(rating)
	if r < MinRating {
		return MinRating
	}
	if r > MaxRating {
		return MaxRating
	}
	return int(r)
}

// Seed は一覧を置き換える。同じ組が複数ある場合は先頭側を残す。
func (s *Store) Seed(reviews []model.Review) {
	s.publish(func() {
		kept := make([]model.Review, 0, len(reviews))
		seen := make(map[reviewKey]bool, len(reviews))
		for _, rv := range reviews {
			k := reviewKey{meetupID: rv.MeetupID, authorID: rv.AuthorID}
			if seen[k] {
				continue
			}
			seen[k] = true
			kept = append(kept, rv)
		}
		s.reviews = kept
		s.index = make(map[reviewKey]int, len(kept))
		for i, rv := range kept {
			s.index[reviewKey{meetupID: rv.MeetupID, authorID: rv.AuthorID}] = len(kept) - 1 - i
		}
	})
}

// List は全件のコピーを返す。
func (s *Store) List() []model.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// ForMeetup は指定ミートアップのレビューを一覧順で返す。
func (s *Store) ForMeetup(meetupID string) []model.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Review, 0)
	for _, rv := range s.reviews {
		if rv.MeetupID == meetupID {
			out = append(out, rv)
		}
	}
	return out
}

// MyReview は現在の投稿者による指定ミートアップのレビューを返す。
func (s *Store) MyReview(meetupID string) (model.Review, bool) {
	a, ok := s.author.CurrentAuthor()
	if !ok {
		return model.Review{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.index[reviewKey{meetupID: meetupID, authorID: a.ID}]
	if !ok {
		return model.Review{}, false
	}
	return s.reviews[s.position(seq)], true
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

// position は挿入通し番号を一覧上の位置に変換する。呼び出し側でmuを保持すること。
func (s *Store) position(seq int) int {
	return len(s.reviews) - 1 - seq
}

func (s *Store) publish(mutate func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	mutate()
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

func (s *Store) copyLocked() []model.Review {
	cp := make([]model.Review, len(s.reviews))
	copy(cp, s.reviews)
	return cp
}
