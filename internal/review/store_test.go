package review

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/security"
)

type upsertMetrics struct {
	metrics.Nop
	mu       sync.Mutex
	inserted int
	updated  int
}

func (u *upsertMetrics) RecordReviewUpsert(inserted bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if inserted {
		u.inserted++
	} else {
		u.updated++
	}
}

var me = Author{ID: "u-me", Name: "runner"}

func newTestStore(t *testing.T, author AuthorProvider) (*Store, *upsertMetrics) {
	t.Helper()
	m := &upsertMetrics{}
	s := NewStore(author, security.NewTextSanitizer(), m)
	clock := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("r-%d", n)
	}
	return s, m
}

func TestAddOrUpdateMyReview_RatingClamp(t *testing.T) {
	inputs := []float64{-5, 0, 0.2, 5.6, math.NaN(), 3, 1e20, -1e20, math.MaxFloat64}
	want := []int{1, 1, 1, 5, 5, 3, 5, 1, 5}

	for i, in := range inputs {
		s, _ := newTestStore(t, StaticAuthor(me))
		id, err := s.AddOrUpdateMyReview("m-1", in, "ok")
		if err != nil {
			t.Fatalf("AddOrUpdateMyReview(%v) error = %v", in, err)
		}
		got, _ := s.MyReview("m-1")
		if got.ID != id || got.Rating != want[i] {
			t.Errorf("rating(%v) = %d, want %d", in, got.Rating, want[i])
		}
	}
}

func TestNormalizeRating_Infinite(t *testing.T) {
	if got := NormalizeRating(math.Inf(1)); got != DefaultRating {
		t.Errorf("NormalizeRating(+Inf) = %d", got)
	}
	if got := NormalizeRating(math.Inf(-1)); got != DefaultRating {
		t.Errorf("NormalizeRating(-Inf) = %d", got)
	}
	if got := NormalizeRating(2.5); got != 3 {
		t.Errorf("NormalizeRating(2.5) = %d, want 3", got)
	}
}

func TestAddOrUpdate_UniquePerMeetupAndAuthor(t *testing.T) {
	s, m := newTestStore(t, StaticAuthor(me))

	first, _ := s.AddOrUpdateMyReview("m-1", 2, "まあまあ")
	for i := 0; i < 5; i++ {
		id, _ := s.AddOrUpdateMyReview("m-1", float64(i+1), fmt.Sprintf("更新%d", i))
		if id != first {
			t.Fatalf("upsert returned %q, want existing id %q", id, first)
		}
	}

	reviews := s.ForMeetup("m-1")
	if len(reviews) != 1 {
		t.Fatalf("reviews for pair = %d, want 1", len(reviews))
	}
	if reviews[0].Rating != 5 || reviews[0].Text != "更新4" {
		t.Errorf("review = %+v, want latest values", reviews[0])
	}
	if m.inserted != 1 || m.updated != 5 {
		t.Errorf("metrics inserted=%d updated=%d", m.inserted, m.updated)
	}
}

func TestAddOrUpdate_PrependsNewAndUpdatesInPlace(t *testing.T) {
	s, _ := newTestStore(t, StaticAuthor(me))
	other := Author{ID: "u-other", Name: "walker"}

	a, _ := s.AddOrUpdate("m-1", me, 4, "first")
	b, _ := s.AddOrUpdate("m-1", other, 3, "second")
	c, _ := s.AddOrUpdate("m-2", me, 5, "third")

	if got := ids(s.List()); strings.Join(got, ",") != strings.Join([]string{c, b, a}, ",") {
		t.Fatalf("order = %v, want [%s %s %s]", got, c, b, a)
	}

	before, _ := s.MyReview("m-1")
	if _, err := s.AddOrUpdate("m-1", me, 1, "edited"); err != nil {
		t.Fatal(err)
	}

	list := s.List()
	if got := ids(list); strings.Join(got, ",") != strings.Join([]string{c, b, a}, ",") {
		t.Errorf("update must keep position, order = %v", got)
	}
	updated := list[2]
	if updated.Rating != 1 || updated.Text != "edited" {
		t.Errorf("updated review = %+v", updated)
	}
	if !updated.CreatedAt.After(before.CreatedAt) {
		t.Error("CreatedAt should be refreshed on update")
	}

	// 挿入後もインデックスが正しい位置を指す
	if _, err := s.AddOrUpdate("m-3", other, 2, "fourth"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddOrUpdate("m-1", other, 5, "again"); err != nil {
		t.Fatal(err)
	}
	for _, rv := range s.List() {
		if rv.ID == b && (rv.Rating != 5 || rv.Text != "again") {
			t.Errorf("review %s = %+v, want updated", b, rv)
		}
	}
}

func TestAddOrUpdate_TextNormalization(t *testing.T) {
	s, _ := newTestStore(t, StaticAuthor(me))

	_, _ = s.AddOrUpdateMyReview("m-1", 4, "   "+strings.Repeat("楽", 250)+"   ")
	got, _ := s.MyReview("m-1")
	if n := utf8.RuneCountInString(got.Text); n != MaxTextLength {
		t.Errorf("text length = %d, want %d", n, MaxTextLength)
	}

	_, _ = s.AddOrUpdateMyReview("m-2", 4, "  <b>good</b> pace  ")
	got, _ = s.MyReview("m-2")
	if got.Text != "good pace" {
		t.Errorf("text = %q, want %q", got.Text, "good pace")
	}
}

func TestAddOrUpdateMyReview_NoAuthor(t *testing.T) {
	s, _ := newTestStore(t, AuthorFunc(func() (Author, bool) { return Author{}, false }))

	if _, err := s.AddOrUpdateMyReview("m-1", 5, "x"); !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("error = %v, want %s", err, model.ErrCodeUnauthorized)
	}
	if _, ok := s.MyReview("m-1"); ok {
		t.Error("MyReview should be empty without an author")
	}
}

func TestAddOrUpdate_RequiresMeetupID(t *testing.T) {
	s, _ := newTestStore(t, StaticAuthor(me))
	if _, err := s.AddOrUpdate("", me, 5, "x"); !model.HasCode(err, model.ErrCodeInvalidRequest) {
		t.Errorf("error = %v, want %s", err, model.ErrCodeInvalidRequest)
	}
}

func TestAddOrUpdate_ConcurrentSamePair(t *testing.T) {
	s, _ := newTestStore(t, StaticAuthor(me))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.AddOrUpdateMyReview("m-1", float64(i%5+1), "x")
		}(i)
	}
	wg.Wait()

	if n := len(s.ForMeetup("m-1")); n != 1 {
		t.Errorf("reviews for pair = %d, want 1", n)
	}
}

func TestSeed_DeduplicatesAndIndexes(t *testing.T) {
	s, _ := newTestStore(t, StaticAuthor(me))
	s.Seed([]model.Review{
		{ID: "s-1", MeetupID: "m-1", AuthorID: "u-me", Rating: 4},
		{ID: "s-2", MeetupID: "m-1", AuthorID: "u-x", Rating: 2},
		{ID: "s-3", MeetupID: "m-1", AuthorID: "u-me", Rating: 1},
	})

	if got := ids(s.List()); strings.Join(got, ",") != "s-1,s-2" {
		t.Fatalf("seeded = %v, want [s-1 s-2]", got)
	}
	id, _ := s.AddOrUpdateMyReview("m-1", 5, "updated")
	if id != "s-1" {
		t.Errorf("upsert after seed hit %q, want s-1", id)
	}
}

func TestSubscribe_NotifiedOnUpsert(t *testing.T) {
	s, _ := newTestStore(t, StaticAuthor(me))
	var got [][]model.Review
	unsubscribe := s.Subscribe(func(list []model.Review) { got = append(got, list) })

	_, _ = s.AddOrUpdateMyReview("m-1", 5, "a")
	_, _ = s.AddOrUpdateMyReview("m-1", 4, "b")
	unsubscribe()
	_, _ = s.AddOrUpdateMyReview("m-2", 4, "c")

	if len(got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(got))
	}
	if got[1][0].Text != "b" {
		t.Errorf("second notification text = %q", got[1][0].Text)
	}
}

func TestSummarize(t *testing.T) {
	if got := Summarize(nil); got != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v", got)
	}

	reviews := []model.Review{{Rating: 5}, {Rating: 4}, {Rating: 4}}
	got := Summarize(reviews)
	if got.Count != 3 || got.AvgRating != 4.3 {
		t.Errorf("Summarize = %+v, want {4.3 3}", got)
	}

	got = Summarize([]model.Review{{Rating: 1}, {Rating: 2}})
	if got.AvgRating != 1.5 {
		t.Errorf("AvgRating = %v, want 1.5", got.AvgRating)
	}
}

func ids(list []model.Review) []string {
	out := make([]string, len(list))
	for i, rv := range list {
		out[i] = rv.ID
	}
	return out
}
