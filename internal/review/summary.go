package review

import (
	"math"

	"github.com/hitoshi/meetup/internal/model"
)

// Summary はレビューの集計結果。
type Summary struct {
	AvgRating float64 `json:"avgRating"`
	Count     int     `json:"count"`
}

// Summarize は平均評価（小数1桁に四捨五入）と件数を返す。空の場合は {0, 0}。
func Summarize(reviews []model.Review) Summary {
	if len(reviews) == 0 {
		return Summary{}
	}
	total := 0
	for _, rv := range reviews {
		total += rv.Rating
	}
	mean := float64(total) / float64(len(reviews))
	return Summary{
		AvgRating: math.Round(mean*10) / 10,
		Count:     len(reviews),
	}
}
