package meetup

import (
	"time"

	"github.com/hitoshi/meetup/internal/model"
)

// MockMeetups はローカル実行用のモックデータを返す。
// 開始日時はnowを基準に決まる。座標は東京駅周辺。
func MockMeetups(now time.Time) []model.Meetup {
	day := now.Truncate(time.Hour)
	return []model.Meetup{
		{
			ID:          "seed-running-1",
			Title:       "皇居ラン 1周",
			Description: "ゆっくりペースで皇居を1周します。初心者歓迎。",
			Category:    model.CategoryRunning,
			StartsAt:    day.Add(26 * time.Hour),
			DurationMin: 60,
			Capacity:    10,
			JoinedCount: 4,
			JoinStatus:  model.JoinStatusNone,
			PlaceName:   "桜田門",
			Lat:         35.6778,
			Lng:         139.7530,
			CreatedAt:   now.Add(-2 * time.Hour),
		},
		{
			ID:          "seed-walk-1",
			Title:       "日比谷公園さんぽ",
			Category:    model.CategoryWalk,
			StartsAt:    day.Add(50 * time.Hour),
			DurationMin: 45,
			Capacity:    6,
			JoinedCount: 6,
			JoinStatus:  model.JoinStatusNone,
			PlaceName:   "日比谷公園 噴水前",
			Lat:         35.6738,
			Lng:         139.7558,
			CreatedAt:   now.Add(-5 * time.Hour),
		},
		{
			ID:          "seed-gym-1",
			Title:       "朝トレ 体幹メニュー",
			Category:    model.CategoryGym,
			StartsAt:    day.Add(20 * time.Hour),
			DurationMin: 30,
			Capacity:    4,
			JoinedCount: 1,
			JoinStatus:  model.JoinStatusNone,
			PlaceName:   "大手町ジム",
			Lat:         35.6850,
			Lng:         139.7640,
			CreatedAt:   now.Add(-26 * time.Hour),
		},
		{
			ID:          "seed-climb-1",
			Title:       "高尾山ハイク",
			Description: "京王線高尾山口駅に集合。",
			Category:    model.CategoryClimb,
			StartsAt:    day.Add(74 * time.Hour),
			DurationMin: 240,
			Capacity:    8,
			JoinedCount: 2,
			JoinStatus:  model.JoinStatusNone,
			PlaceName:   "高尾山口駅",
			Lat:         35.6325,
			Lng:         139.2700,
			CreatedAt:   now.Add(-48 * time.Hour),
		},
	}
}
