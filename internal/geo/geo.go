// Package geo は距離計算と近くのミートアップの並べ替えを提供する。
// 状態を持たない純粋関数のみで構成される。
package geo

import (
	"fmt"
	"math"
	"sort"
)

// EarthRadiusKm は地球の半径（km）。
const EarthRadiusKm = 6371.0

// Point は緯度経度（度）を表す。
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Locatable は位置を持つ要素。
type Locatable interface {
	Location() Point
}

// Ranked は基準点からの距離を付与した要素。
type Ranked[T any] struct {
	Item       T
	DistanceKm float64
}

// DistanceKm はハバーサイン公式で2点間の大円距離（km）を返す。
func DistanceKm(a, b Point) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// Nearby は基準点から半径radiusKm以内（境界を含む）の要素を距離の昇順で返す。
// 同距離の要素は入力順を保つ。
func Nearby[T Locatable](origin Point, items []T, radiusKm float64) []Ranked[T] {
	ranked := make([]Ranked[T], 0, len(items))
	for _, it := range items {
		d := DistanceKm(origin, it.Location())
		if d <= radiusKm {
			ranked = append(ranked, Ranked[T]{Item: it, DistanceKm: d})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})
	return ranked
}

// FormatDistance は距離を表示用文字列にする。
// 1km未満はメートル（整数に丸める）、それ以上は小数1桁のkm。
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%dm", int(math.Round(km*1000)))
	}
	return fmt.Sprintf("%.1fkm", km)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
