package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/ragdocd/internal/retry"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("ragdocd.vectorstore.qdrant")

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against the pattern
// ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (VECTOR_BACKEND_URL host part).
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	Port int

	// APIKey authenticates against Qdrant Cloud or a secured instance
	// (VECTOR_BACKEND_API_KEY).
	APIKey string

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// Retry controls the retry-with-backoff behavior for transient Qdrant
	// failures.
	Retry retry.Config
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry = retry.DefaultConfig()
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

func isTransientGRPCError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func classifyQdrantError(err error) retry.Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Other
	}
	if isTransientGRPCError(err) {
		return retry.Connection
	}
	return retry.Other
}

// QdrantStore is a Store implementation backed by Qdrant's native gRPC
// client, wrapping every call in the shared internal/retry.Do
// combinator.
type QdrantStore struct {
	client  *qdrant.Client
	config  QdrantConfig
	metrics *Metrics
}

// NewQdrantStore creates a QdrantStore from the given configuration.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	qdrantConfig := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &QdrantStore{client: client, config: config, metrics: NewMetrics(zap.NewNop())}, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	err := retry.Do(ctx, s.config.Retry, classifyQdrantError, func(ctx context.Context) error {
		return op()
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return fmt.Errorf("%s: %w: %v", name, ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func qdrantDistance(m Metric) qdrant.Distance {
	switch m {
	case Euclid:
		return qdrant.Distance_Euclid
	case Dot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

// EnsureCollection idempotently creates the collection with dim-sized
// vectors and a keyword payload index on "tag".
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int, metric Metric) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("dim", dim))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	exists := false
	err := s.retry(ctx, "get_collection", func() error {
		_, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			st, ok := status.FromError(err)
			if ok && st.Code() == grpccodes.NotFound {
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if exists {
		return nil
	}

	err = s.retry(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrantDistance(metric),
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err = s.retry(ctx, "create_field_index", func() error {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      "tag",
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

func toQdrantValue(v interface{}) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case []string:
		vals := make([]*qdrant.Value, len(val))
		for i, s := range val {
			vals[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: vals}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		case *qdrant.Value_ListValue:
			items := make([]interface{}, len(val.ListValue.Values))
			for i, lv := range val.ListValue.Values {
				if s, ok := lv.Kind.(*qdrant.Value_StringValue); ok {
					items[i] = s.StringValue
				}
			}
			out[k] = items
		}
	}
	return out
}

// Upsert stores vector with payload under id (assigning a UUID if id is
// empty) and returns the point id used.
func (s *QdrantStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]interface{}) (string, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))
	start := time.Now()

	if len(vector) == 0 {
		return "", ErrEmptyVector
	}

	pointID := id
	if pointID == "" {
		pointID = uuid.New().String()
	}

	qPayload := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		qPayload[k] = toQdrantValue(v)
	}

	var qdrantID *qdrant.PointId
	if parsed, err := uuid.Parse(pointID); err == nil {
		qdrantID = qdrant.NewIDUUID(parsed.String())
	} else {
		qdrantID = qdrant.NewIDNum(hashToUint64(pointID))
	}

	err := s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points: []*qdrant.PointStruct{{
				Id:      qdrantID,
				Vectors: qdrant.NewVectors(vector...),
				Payload: qPayload,
			}},
		})
		return err
	})
	s.metrics.RecordOperation(ctx, "upsert", collection, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	s.metrics.RecordDocuments(ctx, "add", collection, 1)

	span.SetStatus(codes.Ok, "success")
	return pointID, nil
}

func qdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		switch v := value.(type) {
		case string:
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   key,
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}},
					},
				},
			})
		case []string:
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   key,
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: v}}},
					},
				},
			})
		}
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// Search returns up to k hits scoring >= scoreMin, filtered by filter.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, k int, scoreMin float32, filter Filter) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))
	start := time.Now()

	var results []*qdrant.ScoredPoint
	err := s.retry(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			ScoreThreshold: qdrant.PtrOf(scoreMin),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         qdrantFilter(filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	s.metrics.RecordOperation(ctx, "search", collection, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits := make([]Hit, len(results))
	for i, p := range results {
		hits[i] = Hit{PointID: pointIDString(p.Id), Score: p.Score, Payload: fromQdrantPayload(p.Payload)}
	}
	sortHits(hits)
	s.metrics.RecordSearchResults(ctx, collection, len(hits))

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Scroll returns points matching filter with no similarity score.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, filter Filter, limit, offset int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Scroll")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit))

	var points []*qdrant.RetrievedPoint
	err := s.retry(ctx, "scroll", func() error {
		res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         qdrantFilter(filter),
			Limit:          qdrant.PtrOf(uint32(limit + offset)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if offset >= len(points) {
		return []Hit{}, nil
	}
	end := offset + limit
	if end > len(points) {
		end = len(points)
	}
	page := points[offset:end]

	hits := make([]Hit, len(page))
	for i, p := range page {
		hits[i] = Hit{PointID: pointIDString(p.Id), Score: 1.0, Payload: fromQdrantPayload(p.Payload)}
	}

	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeleteByFilter bulk-deletes all points matching filter.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteByFilter")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	qFilter := qdrantFilter(filter)
	if qFilter == nil {
		return fmt.Errorf("%w: delete requires a non-empty filter", ErrInvalidConfig)
	}

	start := time.Now()
	err := s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qFilter},
			},
		})
		return err
	})
	s.metrics.RecordOperation(ctx, "delete_by_filter", collection, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of points in collection.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Count")
	defer span.End()

	var count int
	err := s.retry(ctx, "count", func() error {
		info, err := s.client.GetCollectionInfo(ctx, collection)
		if err != nil {
			st, ok := status.FromError(err)
			if ok && st.Code() == grpccodes.NotFound {
				return ErrCollectionNotFound
			}
			return err
		}
		if info.PointsCount != nil {
			count = int(*info.PointsCount)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return 0, ErrCollectionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	span.SetStatus(codes.Ok, "success")
	return count, nil
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}

// hashToUint64 derives a stable numeric point id from a non-UUID string
// id; the caller's id survives in the payload as doc_id.
func hashToUint64(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

var _ Store = (*QdrantStore)(nil)
