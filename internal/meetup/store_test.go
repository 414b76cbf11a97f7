package meetup

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/security"
)

// countingMetrics は参加結果を数えるMetricsCollector。
type countingMetrics struct {
	metrics.Nop
	mu      sync.Mutex
	joined  int
	ignored int
	created int
}

func (c *countingMetrics) RecordJoin(joined bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if joined {
		c.joined++
	} else {
		c.ignored++
	}
}

func (c *countingMetrics) RecordMeetupCreated() {
	c.mu.Lock()
	c.created++
	c.mu.Unlock()
}

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *countingMetrics) {
	t.Helper()
	m := &countingMetrics{}
	s := NewStore(security.NewTextSanitizer(), m)
	s.now = func() time.Time { return fixedNow }
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("m-%d", n)
	}
	return s, m
}

func validInput() model.MeetupInput {
	return model.MeetupInput{
		Title:       "朝ラン",
		Category:    model.CategoryRunning,
		StartsAt:    fixedNow.Add(24 * time.Hour),
		DurationMin: 60,
		Capacity:    3,
		PlaceName:   "代々木公園",
		Lat:         35.6717,
		Lng:         139.6949,
	}
}

func TestCreate_PrependsNewestFirst(t *testing.T) {
	s, m := newTestStore(t)

	first, err := s.Create(validInput())
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	in := validInput()
	// 開始日時が早くても作成順で先頭に来る
	in.StartsAt = fixedNow.Add(time.Hour)
	second, err := s.Create(in)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	list := s.List()
	if len(list) != 2 || list[0].ID != second || list[1].ID != first {
		t.Fatalf("order = %v, want [%s %s]", ids(list), second, first)
	}
	got := list[0]
	if got.JoinedCount != 0 || got.JoinStatus != model.JoinStatusNone || !got.CreatedAt.Equal(fixedNow) {
		t.Errorf("new meetup = %+v", got)
	}
	if m.created != 2 {
		t.Errorf("created metric = %d, want 2", m.created)
	}
}

func TestCreate_SanitizesText(t *testing.T) {
	s, _ := newTestStore(t)
	in := validInput()
	in.Title = "  <b>夜ラン</b>  "
	in.Description = "<script>x</script>集合は<i>駅前</i>"

	id, err := s.Create(in)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	got, _ := s.Get(id)
	if got.Title != "夜ラン" {
		t.Errorf("Title = %q, want %q", got.Title, "夜ラン")
	}
	if got.Description != "集合は駅前" {
		t.Errorf("Description = %q", got.Description)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(in *model.MeetupInput)
	}{
		{"空のタイトル", func(in *model.MeetupInput) { in.Title = "   " }},
		{"長すぎるタイトル", func(in *model.MeetupInput) { in.Title = strings.Repeat("あ", MaxTitleLength+1) }},
		{"不明なカテゴリ", func(in *model.MeetupInput) { in.Category = "swim" }},
		{"allは作成不可", func(in *model.MeetupInput) { in.Category = model.CategoryAll }},
		{"定員1", func(in *model.MeetupInput) { in.Capacity = 1 }},
		{"定員101", func(in *model.MeetupInput) { in.Capacity = 101 }},
		{"所要時間9分", func(in *model.MeetupInput) { in.DurationMin = 9 }},
		{"緯度範囲外", func(in *model.MeetupInput) { in.Lat = 91 }},
		{"経度NaN", func(in *model.MeetupInput) { in.Lng = math.NaN() }},
		{"開始日時なし", func(in *model.MeetupInput) { in.StartsAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			in := validInput()
			tt.modify(&in)

			_, err := s.Create(in)
			if !model.HasCode(err, model.ErrCodeInvalidMeetup) {
				t.Errorf("error = %v, want %s", err, model.ErrCodeInvalidMeetup)
			}
			if len(s.List()) != 0 {
				t.Error("invalid input must not be stored")
			}
		})
	}
}

func TestJoin_TransitionsOnce(t *testing.T) {
	s, m := newTestStore(t)
	id, _ := s.Create(validInput())

	if !s.Join(id) {
		t.Fatal("first Join should succeed")
	}
	if s.Join(id) {
		t.Error("second Join should be a no-op")
	}

	got, _ := s.Get(id)
	if got.JoinedCount != 1 || got.JoinStatus != model.JoinStatusJoined {
		t.Errorf("meetup = %+v, want joinedCount 1 and joined", got)
	}
	if m.joined != 1 || m.ignored != 1 {
		t.Errorf("metrics joined=%d ignored=%d", m.joined, m.ignored)
	}
}

func TestJoin_FullOrUnknown_IsQuietNoop(t *testing.T) {
	s, _ := newTestStore(t)
	s.Seed([]model.Meetup{
		{ID: "full", Capacity: 2, JoinedCount: 2, JoinStatus: model.JoinStatusNone},
	})

	published := 0
	s.Subscribe(func([]model.Meetup) { published++ })

	if s.Join("full") {
		t.Error("join on full meetup should be a no-op")
	}
	if s.Join("missing") {
		t.Error("join on unknown meetup should be a no-op")
	}
	got, _ := s.Get("full")
	if got.JoinedCount != 2 || got.JoinStatus != model.JoinStatusNone {
		t.Errorf("state changed: %+v", got)
	}
	if published != 0 {
		t.Errorf("no-op join published %d times", published)
	}
}

// TestJoin_ConcurrentNeverExceedsCapacity は並行した参加で定員を超えないことを検証する。
// 参加状態はストア単位のため、各ミートアップには最大1回しか参加できない。
func TestJoin_ConcurrentNeverExceedsCapacity(t *testing.T) {
	s, m := newTestStore(t)
	seed := make([]model.Meetup, 0, 20)
	for i := 0; i < 20; i++ {
		seed = append(seed, model.Meetup{
			ID:          fmt.Sprintf("c-%d", i),
			Capacity:    5,
			JoinedCount: 4 + i%2,
			JoinStatus:  model.JoinStatusNone,
		})
	}
	s.Seed(seed)

	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				s.Join(fmt.Sprintf("c-%d", i))
			}
		}()
	}
	wg.Wait()

	for _, mt := range s.List() {
		if mt.JoinedCount > mt.Capacity {
			t.Errorf("%s: joinedCount %d exceeds capacity %d", mt.ID, mt.JoinedCount, mt.Capacity)
		}
	}
	if m.joined != 10 {
		t.Errorf("successful joins = %d, want 10", m.joined)
	}
	if m.joined+m.ignored != 50*20 {
		t.Errorf("total join attempts = %d, want %d", m.joined+m.ignored, 50*20)
	}
}

func TestFiltered_ByCategory(t *testing.T) {
	s, _ := newTestStore(t)
	s.Seed(MockMeetups(fixedNow))

	if got := len(s.Filtered()); got != 4 {
		t.Errorf("Filtered(all) = %d, want 4", got)
	}
	if err := s.SetCategory(model.CategoryWalk); err != nil {
		t.Fatal(err)
	}
	got := s.Filtered()
	if len(got) != 1 || got[0].Category != model.CategoryWalk {
		t.Errorf("Filtered(walk) = %v", ids(got))
	}
	if err := s.SetCategory(""); err != nil {
		t.Fatal(err)
	}
	if s.Category() != model.CategoryAll {
		t.Errorf("Category() = %q, want all", s.Category())
	}
	if err := s.SetCategory("swim"); !model.HasCode(err, model.ErrCodeInvalidRequest) {
		t.Errorf("SetCategory(swim) error = %v", err)
	}
}

func TestNearby_RequiresLocation(t *testing.T) {
	s, _ := newTestStore(t)
	s.Seed(MockMeetups(fixedNow))

	if got := s.Nearby(100); len(got) != 0 {
		t.Errorf("Nearby without location = %d items, want 0", len(got))
	}
	if _, ok := s.MyLocation(); ok {
		t.Error("MyLocation should be unset")
	}
}

func TestNearby_SortsAndFormats(t *testing.T) {
	s, _ := newTestStore(t)
	s.Seed(MockMeetups(fixedNow))
	// 東京駅
	if err := s.SetMyLocation(35.681236, 139.767125); err != nil {
		t.Fatal(err)
	}

	got := s.Nearby(3.0)

	// 高尾山（約45km）は除外される
	if len(got) != 3 {
		t.Fatalf("Nearby = %d items, want 3", len(got))
	}
	if got[0].Meetup.ID != "seed-gym-1" {
		t.Errorf("nearest = %q, want seed-gym-1", got[0].Meetup.ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].DistanceKm > got[i].DistanceKm {
			t.Errorf("not sorted at %d: %v > %v", i, got[i-1].DistanceKm, got[i].DistanceKm)
		}
	}
	if d := got[0].Distance; !strings.HasSuffix(d, "m") || strings.HasSuffix(d, "km") {
		t.Errorf("Distance = %q", got[0].Distance)
	}

	_ = s.SetCategory(model.CategoryRunning)
	if got := s.Nearby(3.0); len(got) != 1 || got[0].Meetup.ID != "seed-running-1" {
		t.Errorf("Nearby with category filter = %v", got)
	}
}

func TestSetMyLocation_Invalid(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.SetMyLocation(0, 200); err == nil {
		t.Error("expected error for out-of-range longitude")
	}
}

func TestSubscribe_ReceivesCopies(t *testing.T) {
	s, _ := newTestStore(t)
	var last []model.Meetup
	unsubscribe := s.Subscribe(func(list []model.Meetup) { last = list })

	id, _ := s.Create(validInput())
	if len(last) != 1 || last[0].ID != id {
		t.Fatalf("listener got %v", ids(last))
	}
	last[0].Title = "mutated"
	if got, _ := s.Get(id); got.Title == "mutated" {
		t.Error("listener must receive a copy")
	}

	unsubscribe()
	_, _ = s.Create(validInput())
	if len(last) != 1 {
		t.Error("unsubscribed listener should not be notified")
	}
}

func TestSeed_CopiesInput(t *testing.T) {
	s, _ := newTestStore(t)
	seed := MockMeetups(fixedNow)
	s.Seed(seed)
	seed[0].Title = "changed"

	if got, _ := s.Get(seed[0].ID); got.Title == "changed" {
		t.Error("Seed must copy its input")
	}
	if _, ok := s.Get("nope"); ok {
		t.Error("Get(nope) should report missing")
	}
}

func TestMockMeetups_WithinCapacity(t *testing.T) {
	for _, m := range MockMeetups(fixedNow) {
		if m.JoinedCount < 0 || m.JoinedCount > m.Capacity {
			t.Errorf("%s exceeds its capacity", m.ID)
		}
		if !m.Category.Valid() {
			t.Errorf("%s has invalid category", m.ID)
		}
	}
}

func ids(list []model.Meetup) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}
