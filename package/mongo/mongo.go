package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoConfig struct {
	Address  string
	Username string
	Password string
	Database string
}

func (c MongoConfig) uri() string {
	if c.Username == "" {
		return fmt.Sprintf("mongodb://%s/", c.Address)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s/?authSource=admin",
		url.QueryEscape(c.Username), url.QueryEscape(c.Password), c.Address)
}

type HealthStatus struct {
	Connected bool          `json:"connected"`
	Database  string        `json:"database"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

type MongoService struct {
	client   *mongo.Client
	database *mongo.Database
	config   MongoConfig
	mu       sync.RWMutex
}

type PaginatedResult[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int64 `json:"page"`
	Limit      int64 `json:"limit"`
	TotalPages int64 `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

type PaginationOptions struct {
	Page  int64 `json:"page"`
	Limit int64 `json:"limit"`
}

// Normalize applies page 1 and limit 10 defaults and caps the limit at 100.
func (p PaginationOptions) Normalize() PaginationOptions {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p
}

type Repository[T any] interface {
	Find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]T, error)
	FindWithPagination(ctx context.Context, filter bson.M, pagination PaginationOptions, sort bson.D) (*PaginatedResult[T], error)
	FindOne(ctx context.Context, filter bson.M) (*T, error)
	Insert(ctx context.Context, document T) error
	Count(ctx context.Context, filter bson.M) (int64, error)
	EnsureIndex(ctx context.Context, keys bson.D) error
}

type GenericRepository[T any] struct {
	collection *mongo.Collection
}

func NewMongoService(config MongoConfig) (*MongoService, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("mongo address is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("mongo database is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(config.uri())
	clientOptions.SetMaxPoolSize(50)
	clientOptions.SetMinPoolSize(2)
	clientOptions.SetMaxConnIdleTime(30 * time.Second)
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoService{
		client:   client,
		database: client.Database(config.Database),
		config:   config,
	}, nil
}

func (s *MongoService) HealthCheck(ctx context.Context) HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	status := HealthStatus{
		Database: s.config.Database,
	}

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		status.Latency = time.Since(start)
		return status
	}

	status.Connected = true
	status.Latency = time.Since(start)
	return status
}

func (s *MongoService) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client.Disconnect(ctx)
	}
	return nil
}

func (s *MongoService) GetCollection(name string) *mongo.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.database.Collection(name)
}

func NewRepository[T any](service *MongoService, collectionName string) Repository[T] {
	return NewCollectionRepository[T](service.GetCollection(collectionName))
}

func NewCollectionRepository[T any](collection *mongo.Collection) *GenericRepository[T] {
	return &GenericRepository[T]{collection: collection}
}

func (r *GenericRepository[T]) Find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := r.collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute find query: %w", err)
	}
	defer cursor.Close(ctx)

	results := make([]T, 0)
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode find results: %w", err)
	}

	return results, nil
}

// FindOne returns nil, nil when nothing matches.
func (r *GenericRepository[T]) FindOne(ctx context.Context, filter bson.M) (*T, error) {
	var result T
	err := r.collection.FindOne(ctx, filter).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to execute findOne query: %w", err)
	}

	return &result, nil
}

func (r *GenericRepository[T]) Insert(ctx context.Context, document T) error {
	if _, err := r.collection.InsertOne(ctx, document); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *GenericRepository[T]) FindWithPagination(ctx context.Context, filter bson.M, pagination PaginationOptions, sort bson.D) (*PaginatedResult[T], error) {
	pagination = pagination.Normalize()

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	totalPages := (total + pagination.Limit - 1) / pagination.Limit

	findOptions := options.Find().
		SetSkip((pagination.Page - 1) * pagination.Limit).
		SetLimit(pagination.Limit)
	if len(sort) > 0 {
		findOptions.SetSort(sort)
	}

	results, err := r.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}

	return &PaginatedResult[T]{
		Data:       results,
		Total:      total,
		Page:       pagination.Page,
		Limit:      pagination.Limit,
		TotalPages: totalPages,
		HasNext:    pagination.Page < totalPages,
		HasPrev:    pagination.Page > 1,
	}, nil
}

func (r *GenericRepository[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}

	return count, nil
}

func (r *GenericRepository[T]) EnsureIndex(ctx context.Context, keys bson.D) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys})
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}
