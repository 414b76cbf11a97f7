package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/review"
)

// ReviewServiceInterface はレビューハンドラーが必要とするインターフェース。
// review.Store が満たす。
type ReviewServiceInterface interface {
	ForMeetup(meetupID string) []model.Review
	MyReview(meetupID string) (model.Review, bool)
	AddOrUpdateMyReview(meetupID string, rating float64, text string) (string, error)
}

// MeetupFinder はミートアップの存在確認に使うインターフェース。
type MeetupFinder interface {
	Get(id string) (model.Meetup, bool)
}

// ReviewHandler はレビュー関連のHTTPハンドラー。
type ReviewHandler struct {
	service ReviewServiceInterface
	meetups MeetupFinder
}

// NewReviewHandler はReviewHandlerを生成する。
func NewReviewHandler(service ReviewServiceInterface, meetups MeetupFinder) *ReviewHandler {
	return &ReviewHandler{service: service, meetups: meetups}
}

type reviewListResponse struct {
	Reviews  []model.Review `json:"reviews"`
	Summary  review.Summary `json:"summary"`
	MyReview *model.Review  `json:"myReview"`
}

// ratingはfloatで受け取り、丸めと範囲補正はストアで行う。
type upsertReviewRequest struct {
	Rating *float64 `json:"rating"`
	Text   string   `json:"text"`
}

type upsertReviewResponse struct {
	ID string `json:"id"`
}

// ListReviews はミートアップのレビュー一覧と集計を返す。
// GET /api/meetups/{id}/reviews
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	meetupID := chi.URLParam(r, "id")
	if _, ok := h.meetups.Get(meetupID); !ok {
		handleServiceError(w, model.NewMeetupNotFoundError(meetupID))
		return
	}

	reviews := h.service.ForMeetup(meetupID)
	resp := reviewListResponse{Reviews: reviews, Summary: review.Summarize(reviews)}
	if mine, ok := h.service.MyReview(meetupID); ok {
		resp.MyReview = &mine
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpsertMyReview は自分のレビューを作成または更新する。
// ratingが省略された場合は既定値を使う。
// PUT /api/meetups/{id}/reviews/me
func (h *ReviewHandler) UpsertMyReview(w http.ResponseWriter, r *http.Request) {
	meetupID := chi.URLParam(r, "id")
	if _, ok := h.meetups.Get(meetupID); !ok {
		handleServiceError(w, model.NewMeetupNotFoundError(meetupID))
		return
	}

	var req upsertReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rating := float64(review.DefaultRating)
	if req.Rating != nil {
		rating = *req.Rating
	}

	id, err := h.service.AddOrUpdateMyReview(meetupID, rating, req.Text)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upsertReviewResponse{ID: id})
}
