// Package model はドメインモデルを定義する。
package model

import "time"

// Category はミートアップのカテゴリを表す。
type Category string

const (
	CategoryRunning Category = "running"
	CategoryWalk    Category = "walk"
	CategoryClimb   Category = "climb"
	CategoryGym     Category = "gym"
	CategoryEtc     Category = "etc"

	// CategoryAll はフィルタ専用の値で、全カテゴリを表す。
	CategoryAll Category = "all"
)

// Valid は保存可能なカテゴリかどうかを返す。CategoryAllは含まない。
func (c Category) Valid() bool {
	switch c {
	case CategoryRunning, CategoryWalk, CategoryClimb, CategoryGym, CategoryEtc:
		return true
	}
	return false
}

// JoinStatus は自分の参加状態を表す。
type JoinStatus string

const (
	// JoinStatusNone は未参加。
	JoinStatusNone JoinStatus = "none"
	// JoinStatusJoined は参加済み。noneからのみ遷移する。
	JoinStatusJoined JoinStatus = "joined"
)

// Meetup はミートアップを表す。
// 不変条件: 0 <= JoinedCount <= Capacity
type Meetup struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    Category   `json:"category"`
	StartsAt    time.Time  `json:"startsAt"`
	DurationMin int        `json:"durationMin"`
	Capacity    int        `json:"capacity"`
	JoinedCount int        `json:"joinedCount"`
	JoinStatus  JoinStatus `json:"joinStatus"`
	PlaceName   string     `json:"placeName"`
	Lat         float64    `json:"lat"`
	Lng         float64    `json:"lng"`
	HostID      string     `json:"hostId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Remaining は残り参加可能人数を返す。
func (m Meetup) Remaining() int {
	return m.Capacity - m.JoinedCount
}

// MeetupInput はミートアップ作成の入力値。
type MeetupInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	StartsAt    time.Time `json:"startsAt"`
	DurationMin int       `json:"durationMin"`
	Capacity    int       `json:"capacity"`
	PlaceName   string    `json:"placeName"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	HostID      string    `json:"hostId"`
}

// Review はミートアップに対するレビューを表す。
// (MeetupID, AuthorID) の組につき最大1件。
type Review struct {
	ID         string    `json:"id"`
	MeetupID   string    `json:"meetupId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Rating     int       `json:"rating"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}
