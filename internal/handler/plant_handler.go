// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/plantdex/internal/middleware"
	"github.com/hitoshi/plantdex/internal/model"
	"github.com/hitoshi/plantdex/internal/plant"
)

// DefaultMaxUploadSize は植物登録リクエストボディのデフォルト上限（10MiB）。
// 埋め込み画像を含むため通常のAPIより大きい。
const DefaultMaxUploadSize int64 = 10 << 20

// PlantServiceInterface は植物ハンドラーが必要とするサービスインターフェース。
type PlantServiceInterface interface {
	List(ctx context.Context, userID int64) ([]model.Plant, error)
	Get(ctx context.Context, userID, plantID int64) (*model.Plant, error)
	Submit(ctx context.Context, userID int64, sub plant.Submission) (*model.Plant, error)
	Delete(ctx context.Context, userID, plantID int64) error
}

// PlantHandler は植物コレクションのHTTPハンドラー。
type PlantHandler struct {
	service       PlantServiceInterface
	maxUploadSize int64
}

// NewPlantHandler はPlantHandlerを生成する。maxUploadSizeが0以下の場合はデフォルト値を使う。
func NewPlantHandler(service PlantServiceInterface, maxUploadSize int64) *PlantHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &PlantHandler{
		service:       service,
		maxUploadSize: maxUploadSize,
	}
}

// submitPlantRequest は植物登録リクエストのボディ。
// すべて省略可能。nullは未指定として扱う。
type submitPlantRequest struct {
	Name           string `json:"name"`
	ScientificName string `json:"scientificName"`
	Habitat        string `json:"habitat"`
	CareTips       string `json:"careTips"`
	ImageURL       string `json:"imageUrl"`
}

// plantResponse は植物レコードのAPIレスポンス。
type plantResponse struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"userId"`
	Name           string    `json:"name"`
	ScientificName string    `json:"scientificName"`
	ImageURL       string    `json:"imageUrl"`
	Habitat        string    `json:"habitat"`
	CareTips       string    `json:"careTips"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ListPlants はログインユーザーの植物一覧を返す。
// GET /api/plants
func (h *PlantHandler) ListPlants(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	plants, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]plantResponse, 0, len(plants))
	for i := range plants {
		resp = append(resp, toPlantResponse(&plants[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPlant は植物レコードを1件返す。
// GET /api/plants/{id}
func (h *PlantHandler) GetPlant(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	plantID, ok := parsePlantID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), userID, plantID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPlantResponse(p))
}

// SubmitPlant は植物を登録する。埋め込み画像がある場合は識別を行う。
// POST /api/plants
func (h *PlantHandler) SubmitPlant(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req submitPlantRequest
	if apiErr := decodeJSONBody(w, r, h.maxUploadSize, &req); apiErr != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	p, err := h.service.Submit(r.Context(), userID, plant.Submission{
		Name:           req.Name,
		ScientificName: req.ScientificName,
		Habitat:        req.Habitat,
		CareTips:       req.CareTips,
		ImageURL:       req.ImageURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPlantResponse(p))
}

// DeletePlant は植物レコードを削除する。
// DELETE /api/plants/{id}
func (h *PlantHandler) DeletePlant(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	plantID, ok := parsePlantID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, plantID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parsePlantID はURLパラメータの植物IDを解釈する。
// 数値でないIDは存在しないレコードとして404を返す。
func parsePlantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewPlantNotFoundError(raw))
		return 0, false
	}
	return id, true
}

// toPlantResponse はmodel.PlantからAPIレスポンスに変換する。
func toPlantResponse(p *model.Plant) plantResponse {
	return plantResponse{
		ID:             p.ID,
		UserID:         p.UserID,
		Name:           p.Name,
		ScientificName: p.ScientificName,
		ImageURL:       p.ImageURL,
		Habitat:        p.Habitat,
		CareTips:       p.CareTips,
		CreatedAt:      p.CreatedAt,
	}
}
