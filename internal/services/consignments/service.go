package consignments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/shipmates/tracksync/internal/cache"
	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/services/risk"
)

type Repository interface {
	GetConsignmentByTrackingID(ctx context.Context, trackingID string) (*models.Consignment, error)
	ListEvents(ctx context.Context, consignmentID string, limit, offset int) ([]*models.TrackingEvent, error)
	LatestEvents(ctx context.Context, consignmentID string, n int) ([]*models.TrackingEvent, error)
	ListTransitions(ctx context.Context, consignmentID string, limit int) ([]*models.StatusTransition, error)
}

// Service — read-ручки поверх хранилища. Кэш best-effort: промах или
// ошибка кэша прозрачно уходят в базу.
type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration

	classifier *risk.Classifier
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration, classifier *risk.Classifier) *Service {
	if classifier == nil {
		classifier = risk.New(risk.DefaultConfig())
	}
	return &Service{repo: repo, cache: c, currentTTL: currentTTL, classifier: classifier}
}

func (s *Service) GetByTrackingID(ctx context.Context, trackingID string) (*models.Consignment, error) {
	if trackingID == "" {
		return nil, errors.New("trackingId is required")
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(trackingID)); err == nil && ok {
			var c models.Consignment
			if json.Unmarshal(b, &c) == nil {
				return &c, nil
			}
		}
	}

	c, err := s.repo.GetConsignmentByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, err := json.Marshal(c); err == nil {
			_ = s.cache.Set(ctx, currentKey(trackingID), b, s.currentTTL)
		}
	}
	return c, nil
}

// Invalidate сбрасывает кэш текущего состояния после записи sync-прохода.
func (s *Service) Invalidate(ctx context.Context, trackingID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, currentKey(trackingID))
}

func (s *Service) ListEvents(ctx context.Context, trackingID string, limit, offset int) ([]*models.TrackingEvent, error) {
	c, err := s.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	evs, err := s.repo.ListEvents(ctx, c.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	// Отправка есть, событий нет (например, sentinel-заглушка): это пустой
	// список, а не not found.
	if evs == nil {
		evs = []*models.TrackingEvent{}
	}
	return evs, nil
}

func (s *Service) ListTransitions(ctx context.Context, trackingID string, limit int) ([]*models.StatusTransition, error) {
	c, err := s.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	trs, err := s.repo.ListTransitions(ctx, c.ID, limit)
	if err != nil {
		return nil, err
	}
	if trs == nil {
		trs = []*models.StatusTransition{}
	}
	return trs, nil
}

// RiskAssessment — оба независимых сигнала риска по одной отправке.
type RiskAssessment struct {
	TrackingID    string     `json:"trackingId"`
	CurrentStatus string     `json:"currentStatus"`
	Bucket        string     `json:"bucket"`
	BookedAt      *time.Time `json:"bookedAt,omitempty"`
	AllowanceDays int        `json:"allowanceDays"`

	Tat Level `json:"tat"`

	Movement       Level  `json:"movement"`
	MovementReason string `json:"movementReason"`
}

type Level = risk.Level

// Risk считает оба сигнала на момент чтения. Для классификации застоя
// нужны два последних события: последнее даёт "где и когда", предпоследнее —
// локацию для сравнения.
func (s *Service) Risk(ctx context.Context, trackingID string, now time.Time) (*RiskAssessment, error) {
	c, err := s.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	latest, err := s.repo.LatestEvents(ctx, c.ID, 2)
	if err != nil {
		return nil, err
	}

	var last *models.TrackingEvent
	var prevLocation string
	if len(latest) > 0 {
		last = latest[0]
	}
	if len(latest) > 1 {
		prevLocation = latest[1].Location
	}

	mv := s.classifier.ClassifyMovement(last, prevLocation, c.CurrentStatus, now)

	return &RiskAssessment{
		TrackingID:     c.TrackingID,
		CurrentStatus:  c.CurrentStatus,
		Bucket:         models.BucketFor(c.CurrentStatus),
		BookedAt:       c.BookedAt,
		AllowanceDays:  s.classifier.AllowanceDays(c.TrackingID),
		Tat:            s.classifier.ClassifyTat(c.TrackingID, c.BookedAt, c.CurrentStatus, now),
		Movement:       mv.Level,
		MovementReason: mv.Reason,
	}, nil
}

func currentKey(trackingID string) string {
	return "consignment:current:" + trackingID
}
