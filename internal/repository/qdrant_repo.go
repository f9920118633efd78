package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 1536

	payloadPaperID   = "paper_id"
	payloadSource    = "source"
	payloadPublishTS = "publish_ts"
	payloadCitations = "citation_count"
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool
	VectorDimension int
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository stores paper vectors in a Qdrant collection.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantRepository creates a new QdrantRepository.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dim := cfg.VectorDimension
	if dim <= 0 {
		dim = defaultVectorDimension
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: dim,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// Dimension returns the configured vector size.
func (r *QdrantRepository) Dimension() int {
	return r.vectorDimension
}

// EnsureCollection creates the collection if it doesn't exist and checks
// the vector size if it does.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if size := vectors.GetParams().GetSize(); size > 0 {
		return size, true
	}
	for _, p := range vectors.GetParamsMap().GetMap() {
		if size := p.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

// PointID maps a paper id onto the UUID space Qdrant requires.
func PointID(paperID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(paperID)).String()
}

func pointID(paperID string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(paperID)}}
}

// PaperPoint is a stored vector with its filterable payload.
type PaperPoint struct {
	PaperID       string
	Vector        []float32
	Source        string
	PublishDate   *time.Time
	CitationCount int
}

// PointHit is a search hit decoded from the point payload.
type PointHit struct {
	PaperID       string
	Score         float32
	CitationCount int
}

// PointFilter narrows a search. Zero values are ignored.
type PointFilter struct {
	Source       string
	From         *time.Time
	To           *time.Time
	MinCitations int
}

// UpsertPoint inserts or replaces the vector of one paper.
func (r *QdrantRepository) UpsertPoint(ctx context.Context, p PaperPoint) error {
	payload := map[string]*pb.Value{
		payloadPaperID:   {Kind: &pb.Value_StringValue{StringValue: p.PaperID}},
		payloadSource:    {Kind: &pb.Value_StringValue{StringValue: p.Source}},
		payloadCitations: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.CitationCount)}},
	}
	if p.PublishDate != nil {
		payload[payloadPublishTS] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: p.PublishDate.Unix()}}
	}

	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points: []*pb.PointStruct{{
			Id: pointID(p.PaperID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// DeletePoint removes the vector of one paper.
func (r *QdrantRepository) DeletePoint(ctx context.Context, paperID string) error {
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(paperID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}
	return nil
}

// SearchPoints performs a cosine similarity search.
func (r *QdrantRepository) SearchPoints(ctx context.Context, vector []float32, limit int, filter *PointFilter) ([]PointHit, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		Filter: buildFilter(filter),
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]PointHit, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		payload := scored.GetPayload()
		hits = append(hits, PointHit{
			PaperID:       payload[payloadPaperID].GetStringValue(),
			Score:         scored.GetScore(),
			CitationCount: int(payload[payloadCitations].GetIntegerValue()),
		})
	}
	return hits, nil
}

// GetPoints fetches stored vectors and payloads by paper id. Unknown ids
// are skipped.
func (r *QdrantRepository) GetPoints(ctx context.Context, paperIDs []string) ([]PaperPoint, error) {
	if len(paperIDs) == 0 {
		return nil, nil
	}
	ids := make([]*pb.PointId, len(paperIDs))
	for i, id := range paperIDs {
		ids[i] = pointID(id)
	}

	resp, err := r.pointsClient.Get(ctx, &pb.GetPoints{
		CollectionName: r.collectionName,
		Ids:            ids,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		WithVectors: &pb.WithVectorsSelector{
			SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get points: %w", err)
	}

	points := make([]PaperPoint, 0, len(resp.GetResult()))
	for _, rp := range resp.GetResult() {
		payload := rp.GetPayload()
		p := PaperPoint{
			PaperID:       payload[payloadPaperID].GetStringValue(),
			Vector:        rp.GetVectors().GetVector().GetData(),
			Source:        payload[payloadSource].GetStringValue(),
			CitationCount: int(payload[payloadCitations].GetIntegerValue()),
		}
		if v, ok := payload[payloadPublishTS]; ok {
			t := time.Unix(v.GetIntegerValue(), 0).UTC()
			p.PublishDate = &t
		}
		points = append(points, p)
	}
	return points, nil
}

// CountPoints returns the exact number of stored vectors.
func (r *QdrantRepository) CountPoints(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

func buildFilter(f *PointFilter) *pb.Filter {
	if f == nil {
		return nil
	}
	var conditions []*pb.Condition

	if f.Source != "" {
		conditions = append(conditions, fieldCondition(&pb.FieldCondition{
			Key:   payloadSource,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: f.Source}},
		}))
	}

	if f.From != nil || f.To != nil {
		rng := &pb.Range{}
		if f.From != nil {
			gte := float64(f.From.Unix())
			rng.Gte = &gte
		}
		if f.To != nil {
			lte := float64(f.To.Unix())
			rng.Lte = &lte
		}
		conditions = append(conditions, fieldCondition(&pb.FieldCondition{Key: payloadPublishTS, Range: rng}))
	}

	if f.MinCitations > 0 {
		gte := float64(f.MinCitations)
		conditions = append(conditions, fieldCondition(&pb.FieldCondition{
			Key:   payloadCitations,
			Range: &pb.Range{Gte: &gte},
		}))
	}

	if len(conditions) == 0 {
		return nil
	}
	return &pb.Filter{Must: conditions}
}

func fieldCondition(fc *pb.FieldCondition) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: fc}}
}
