package handler

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meetup/internal/geo"
	"github.com/hitoshi/meetup/internal/meetup"
	"github.com/hitoshi/meetup/internal/middleware"
	"github.com/hitoshi/meetup/internal/model"
)

// MeetupServiceInterface はミートアップハンドラーが必要とするインターフェース。
// meetup.Store が満たす。
type MeetupServiceInterface interface {
	Create(input model.MeetupInput) (string, error)
	Get(id string) (model.Meetup, bool)
	Join(id string) bool
	Filtered() []model.Meetup
	Category() model.Category
	SetCategory(c model.Category) error
	Nearby(radiusKm float64) []meetup.Ranked
	SetMyLocation(lat, lng float64) error
	MyLocation() (geo.Point, bool)
}

// MeetupHandler はミートアップ関連のHTTPハンドラー。
type MeetupHandler struct {
	service       MeetupServiceInterface
	session       middleware.SessionReader
	defaultRadius float64
}

// NewMeetupHandler はMeetupHandlerを生成する。
// defaultRadiusKm はradiusKm未指定時の近隣検索半径。
func NewMeetupHandler(service MeetupServiceInterface, session middleware.SessionReader, defaultRadiusKm float64) *MeetupHandler {
	return &MeetupHandler{service: service, session: session, defaultRadius: defaultRadiusKm}
}

type meetupListResponse struct {
	Category model.Category `json:"category"`
	Meetups  []model.Meetup `json:"meetups"`
}

type nearbyResponse struct {
	Origin   *geo.Point      `json:"origin"`
	RadiusKm float64         `json:"radiusKm"`
	Meetups  []meetup.Ranked `json:"meetups"`
}

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type createMeetupResponse struct {
	ID string `json:"id"`
}

// ListMeetups はカテゴリで絞り込んだ一覧を返す。
// categoryクエリを指定した場合は保持中のフィルタを切り替える。
// GET /api/meetups?category=running
func (h *MeetupHandler) ListMeetups(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query(); q.Has("category") {
		if err := h.service.SetCategory(model.Category(q.Get("category"))); err != nil {
			handleServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, meetupListResponse{
		Category: h.service.Category(),
		Meetups:  h.service.Filtered(),
	})
}

// Nearby は現在地から半径以内のミートアップを近い順に返す。
// 現在地が未設定の場合は空の一覧とorigin=nullを返す。
// GET /api/meetups/nearby?radiusKm=3
func (h *MeetupHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	radius := h.defaultRadius
	if v := r.URL.Query().Get("radiusKm"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			handleServiceError(w, model.NewInvalidRequestError("radiusKmは正の数で指定してください"))
			return
		}
		radius = f
	}

	resp := nearbyResponse{RadiusKm: radius, Meetups: h.service.Nearby(radius)}
	if origin, ok := h.service.MyLocation(); ok {
		resp.Origin = &origin
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetLocation は現在地を保持する。
// PUT /api/location
func (h *MeetupHandler) SetLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Lat == nil || req.Lng == nil {
		handleServiceError(w, model.NewInvalidRequestError("latとlngは必須です"))
		return
	}

	if err := h.service.SetMyLocation(*req.Lat, *req.Lng); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateMeetup はミートアップを作成する。主催者はログイン中のユーザー。
// POST /api/meetups
func (h *MeetupHandler) CreateMeetup(w http.ResponseWriter, r *http.Request) {
	var input model.MeetupInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.HostID = ""
	if u := h.session.CurrentUser(); u != nil {
		input.HostID = u.ID
	}

	id, err := h.service.Create(input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createMeetupResponse{ID: id})
}

// GetMeetup はミートアップ詳細を返す。
// GET /api/meetups/{id}
func (h *MeetupHandler) GetMeetup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, ok := h.service.Get(id)
	if !ok {
		handleServiceError(w, model.NewMeetupNotFoundError(id))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// JoinMeetup はミートアップに参加する。
// ストアは参加できなかった場合もエラーを返さないため、戻り値で204と409を出し分ける。
// POST /api/meetups/{id}/join
func (h *MeetupHandler) JoinMeetup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.service.Get(id); !ok {
		handleServiceError(w, model.NewMeetupNotFoundError(id))
		return
	}

	if !h.service.Join(id) {
		slog.Info("join not applied", slog.String("meetup_id", id))
		handleServiceError(w, model.NewJoinRejectedError())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
