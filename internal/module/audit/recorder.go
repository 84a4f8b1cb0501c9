package audit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/yothgewalt/discount-card-portal-server/package/mongo"
)

type Query struct {
	Page   int64  `query:"page"`
	Limit  int64  `query:"limit"`
	Action string `query:"action" validate:"omitempty,oneof=admin_login admin_logout expire_session resend_otp export_sessions"`
}

type Page struct {
	Records    []Record `json:"records"`
	Page       int64    `json:"page"`
	Limit      int64    `json:"limit"`
	Total      int64    `json:"total"`
	TotalPages int64    `json:"total_pages"`
}

// Reader lists recorded actions newest first.
type Reader interface {
	List(ctx context.Context, query Query) (*Page, error)
}

type MongoRecorder struct {
	repository mongo.Repository[Record]
}

func NewMongoRecorder(repository mongo.Repository[Record]) *MongoRecorder {
	return &MongoRecorder{repository: repository}
}

func (m *MongoRecorder) EnsureIndexes(ctx context.Context) error {
	if err := m.repository.EnsureIndex(ctx, bson.D{{Key: "created_at", Value: -1}}); err != nil {
		return err
	}
	return m.repository.EnsureIndex(ctx, bson.D{{Key: "action", Value: 1}, {Key: "created_at", Value: -1}})
}

func (m *MongoRecorder) Record(ctx context.Context, rec Record) error {
	if err := m.repository.Insert(ctx, rec); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

func (m *MongoRecorder) List(ctx context.Context, query Query) (*Page, error) {
	filter := bson.M{}
	if query.Action != "" {
		filter["action"] = query.Action
	}

	result, err := m.repository.FindWithPagination(ctx, filter,
		mongo.PaginationOptions{Page: query.Page, Limit: query.Limit},
		bson.D{{Key: "created_at", Value: -1}},
	)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	records := result.Data
	if records == nil {
		records = []Record{}
	}
	return &Page{
		Records:    records,
		Page:       result.Page,
		Limit:      result.Limit,
		Total:      result.Total,
		TotalPages: result.TotalPages,
	}, nil
}

// LogRecorder writes the trail to the application log when MongoDB is not
// configured.
type LogRecorder struct {
	logger zerolog.Logger
}

func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.With().Str("component", "audit").Logger()}
}

func (l *LogRecorder) Record(ctx context.Context, rec Record) error {
	event := l.logger.Info()
	if rec.Outcome == OutcomeFailure {
		event = l.logger.Warn()
	}
	event.
		Str("audit_id", rec.ID).
		Str("action", string(rec.Action)).
		Str("actor", rec.Actor).
		Str("session_id", rec.SessionID).
		Str("target", rec.Target).
		Str("outcome", string(rec.Outcome)).
		Str("kind", rec.Kind).
		Str("ip", rec.IP).
		Time("at", rec.CreatedAt).
		Msg("operator action")
	return nil
}
