package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/stratumhq/stratum/internal/domain"
)

// Dimension is the fixed vector width the "logs" collection is created
// with (§6.5); it must match internal/embedding.Dimension.
const Dimension = 384

// pointsClient and collectionsClient narrow the generated Qdrant clients
// down to what VectorStore uses, so tests can inject mocks without a
// live gRPC server.
type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
}

// VectorStore is the sole owner of Qdrant operations for the "logs"
// collection (§4.6).
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string
}

// New dials Qdrant at addr and returns a VectorStore bound to collection.
func New(addr, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: dial %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients wires pre-built clients, for tests.
func NewWithClients(points pointsClient, collections collectionsClient, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close releases the underlying gRPC connection, if any.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if it does
// not already exist (§4.6: ensure_collection(name, dim=384, metric=cosine)).
func (v *VectorStore) EnsureCollection(ctx context.Context, dim int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vectorstore: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Count returns the number of points currently in the collection, used by
// /api/stats to report the embedding count alongside C4's row count
// (§4.5: "embedding count joined with C5 size").
func (v *VectorStore) Count(ctx context.Context) (int64, error) {
	resp, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: collection info: %w", err)
	}
	return int64(resp.GetResult().GetPointsCount()), nil
}

// Upsert bulk-writes points, idempotent by id (§4.4, §4.6).
func (v *VectorStore) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		if len(p.Embedding) != Dimension {
			return fmt.Errorf("vectorstore: point %s: dimension %d, want %d", p.ID, len(p.Embedding), Dimension)
		}
		pbPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Embedding}},
			},
			Payload: payloadOf(p),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         pbPoints,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByDocID removes all points for a given log id. Present for
// re-ingestion / correction flows; the worker's normal path relies on
// Upsert's id-keyed idempotency instead (§4.4).
func (v *VectorStore) DeleteByDocID(ctx context.Context, id string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete %s: %w", id, err)
	}
	return nil
}

// Search performs k-NN similarity search, optionally narrowed by filter
// (§4.6, §4.7 hybrid retrieval).
func (v *VectorStore) Search(ctx context.Context, embedding []float32, k int, filter Filter) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if !filter.isZero() {
		req.Filter = &pb.Filter{Must: filterConditions(filter)}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	out := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		out[i] = searchResultOf(r)
	}
	return out, nil
}

func payloadOf(p domain.VectorPoint) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"service":        {Kind: &pb.Value_StringValue{StringValue: p.Service}},
		"level":          {Kind: &pb.Value_StringValue{StringValue: string(p.Level)}},
		"message":        {Kind: &pb.Value_StringValue{StringValue: p.Message}},
		"timestamp_secs": {Kind: &pb.Value_IntegerValue{IntegerValue: p.Timestamp}},
	}
	if p.TraceID != "" {
		payload["trace_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: p.TraceID}}
	}
	return payload
}

func searchResultOf(r *pb.ScoredPoint) SearchResult {
	sr := SearchResult{ID: r.GetId().GetUuid(), Score: r.GetScore()}
	payload := r.GetPayload()
	if v, ok := payload["service"]; ok {
		sr.Service = v.GetStringValue()
	}
	if v, ok := payload["level"]; ok {
		sr.Level = v.GetStringValue()
	}
	if v, ok := payload["message"]; ok {
		sr.Message = v.GetStringValue()
	}
	if v, ok := payload["timestamp_secs"]; ok {
		sr.TimestampSecs = v.GetIntegerValue()
	}
	if v, ok := payload["trace_id"]; ok {
		sr.TraceID = v.GetStringValue()
	}
	return sr
}

func filterConditions(f Filter) []*pb.Condition {
	var conds []*pb.Condition
	if f.Service != "" {
		conds = append(conds, keywordMatch("service", f.Service))
	}
	if f.Level != "" {
		conds = append(conds, keywordMatch("level", f.Level))
	}
	if f.TimestampFrom != 0 || f.TimestampTo != 0 {
		rng := &pb.Range{}
		if f.TimestampFrom != 0 {
			from := float64(f.TimestampFrom)
			rng.Gte = &from
		}
		if f.TimestampTo != 0 {
			to := float64(f.TimestampTo)
			rng.Lte = &to
		}
		conds = append(conds, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{Key: "timestamp_secs", Range: rng},
			},
		})
	}
	return conds
}

func keywordMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
