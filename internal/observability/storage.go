package observability

import (
	"context"
	"errors"
	"time"

	"inkpost/internal/models"
	"inkpost/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
// Lookups that miss (storage.ErrNotFound) are recorded as outcomes, not errors.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("inkpost/storage")
	meter := otel.Meter("inkpost/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()

	outcome := "ok"
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrNotFound):
		outcome = "not_found"
		span.SetAttributes(attribute.Bool("storage.not_found", true))
	case errors.Is(err, storage.ErrConflict):
		outcome = "conflict"
		span.SetAttributes(attribute.Bool("storage.conflict", true))
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	s.duration.Record(ctx, elapsed, attrs)
	if outcome == "error" {
		s.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}

	span.End()
}

func (s *InstrumentedStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "CreateAPIKey", attribute.String("key_id", key.ID))
	start := time.Now()
	err := s.inner.CreateAPIKey(ctx, key)
	s.record(ctx, span, "CreateAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "GetAPIKey", attribute.String("key_id", id))
	start := time.Now()
	result, err := s.inner.GetAPIKey(ctx, id)
	s.record(ctx, span, "GetAPIKey", start, err)
	return result, err
}

// GetAPIKeyByHash never puts the hash on the span.
func (s *InstrumentedStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "GetAPIKeyByHash")
	start := time.Now()
	result, err := s.inner.GetAPIKeyByHash(ctx, hash)
	s.record(ctx, span, "GetAPIKeyByHash", start, err)
	return result, err
}

func (s *InstrumentedStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "ListAPIKeys")
	start := time.Now()
	result, err := s.inner.ListAPIKeys(ctx)
	s.record(ctx, span, "ListAPIKeys", start, err)
	return result, err
}

func (s *InstrumentedStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "UpdateAPIKey", attribute.String("key_id", key.ID))
	start := time.Now()
	err := s.inner.UpdateAPIKey(ctx, key)
	s.record(ctx, span, "UpdateAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) DeleteAPIKey(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteAPIKey", attribute.String("key_id", id))
	start := time.Now()
	err := s.inner.DeleteAPIKey(ctx, id)
	s.record(ctx, span, "DeleteAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) TouchAPIKey(ctx context.Context, id string, usedAt time.Time, ip string) error {
	ctx, span := s.startSpan(ctx, "TouchAPIKey", attribute.String("key_id", id))
	start := time.Now()
	err := s.inner.TouchAPIKey(ctx, id, usedAt, ip)
	s.record(ctx, span, "TouchAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) ListPosts(ctx context.Context) ([]*models.Post, error) {
	ctx, span := s.startSpan(ctx, "ListPosts")
	start := time.Now()
	result, err := s.inner.ListPosts(ctx)
	s.record(ctx, span, "ListPosts", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	ctx, span := s.startSpan(ctx, "GetPost", attribute.String("post_id", id))
	start := time.Now()
	result, err := s.inner.GetPost(ctx, id)
	s.record(ctx, span, "GetPost", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetPostBySlug(ctx context.Context, slug string) (*models.Post, error) {
	ctx, span := s.startSpan(ctx, "GetPostBySlug", attribute.String("slug", slug))
	start := time.Now()
	result, err := s.inner.GetPostBySlug(ctx, slug)
	s.record(ctx, span, "GetPostBySlug", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreatePost(ctx context.Context, post *models.Post) error {
	ctx, span := s.startSpan(ctx, "CreatePost",
		attribute.String("post_id", post.ID),
		attribute.String("slug", post.Slug),
	)
	start := time.Now()
	err := s.inner.CreatePost(ctx, post)
	s.record(ctx, span, "CreatePost", start, err)
	return err
}

func (s *InstrumentedStorage) UpdatePost(ctx context.Context, post *models.Post) error {
	ctx, span := s.startSpan(ctx, "UpdatePost", attribute.String("post_id", post.ID))
	start := time.Now()
	err := s.inner.UpdatePost(ctx, post)
	s.record(ctx, span, "UpdatePost", start, err)
	return err
}

func (s *InstrumentedStorage) DeletePost(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeletePost", attribute.String("post_id", id))
	start := time.Now()
	err := s.inner.DeletePost(ctx, id)
	s.record(ctx, span, "DeletePost", start, err)
	return err
}

func (s *InstrumentedStorage) IncrementPostViews(ctx context.Context, id string) (int64, error) {
	ctx, span := s.startSpan(ctx, "IncrementPostViews", attribute.String("post_id", id))
	start := time.Now()
	result, err := s.inner.IncrementPostViews(ctx, id)
	s.record(ctx, span, "IncrementPostViews", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreateComment(ctx context.Context, comment *models.Comment) error {
	ctx, span := s.startSpan(ctx, "CreateComment",
		attribute.String("comment_id", comment.ID),
		attribute.String("post_id", comment.PostID),
	)
	start := time.Now()
	err := s.inner.CreateComment(ctx, comment)
	s.record(ctx, span, "CreateComment", start, err)
	return err
}

func (s *InstrumentedStorage) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	ctx, span := s.startSpan(ctx, "GetComment", attribute.String("comment_id", id))
	start := time.Now()
	result, err := s.inner.GetComment(ctx, id)
	s.record(ctx, span, "GetComment", start, err)
	return result, err
}

func (s *InstrumentedStorage) ListApprovedComments(ctx context.Context, postID string) ([]*models.Comment, error) {
	ctx, span := s.startSpan(ctx, "ListApprovedComments", attribute.String("post_id", postID))
	start := time.Now()
	result, err := s.inner.ListApprovedComments(ctx, postID)
	s.record(ctx, span, "ListApprovedComments", start, err)
	return result, err
}

func (s *InstrumentedStorage) UpdateCommentStatus(ctx context.Context, id string, status models.CommentStatus) (*models.Comment, error) {
	ctx, span := s.startSpan(ctx, "UpdateCommentStatus",
		attribute.String("comment_id", id),
		attribute.String("status", string(status)),
	)
	start := time.Now()
	result, err := s.inner.UpdateCommentStatus(ctx, id, status)
	s.record(ctx, span, "UpdateCommentStatus", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
