// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package vectordb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// Payload is the denormalised projection stored with every vector point so
// retrieval stays single-hop: no metadata-store round-trip in the hot path.
type Payload struct {
	AssetID        string
	ProjectID      string
	Visibility     string
	DocumentType   string
	Content        string
	SectionPath    string
	EmbeddingModel string
	Seq            int
	Page           *int
}

// Point is a chunk embedding plus payload. The point id equals the chunk id
// so re-embedding overwrites cleanly.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Match represents a vector search hit.
type Match struct {
	ID      string
	Score   float32
	Payload Payload
}

// Scope restricts a search to what the caller may see: chunks of the
// caller's project plus public chunks. Admin disables the visibility filter.
type Scope struct {
	ProjectID     string
	Admin         bool
	AssetID       string
	DocumentTypes []string
}

// VectorDB describes the behaviour required by the ingestion pipeline and
// retriever. Collections are keyed by embedding dimension.
type VectorDB interface {
	Upsert(ctx context.Context, dim int, points []Point) error
	Search(ctx context.Context, dim int, queryVector []float32, topK int, threshold float32, scope Scope) ([]Match, error)
	DeleteByAsset(ctx context.Context, dim int, assetID string) error
	CountByAsset(ctx context.Context, dim int, assetID string) (int, error)
	PointCount(ctx context.Context, dim int) (int, error)
}

// QdrantVectorDB is a thin wrapper around the Qdrant service clients. Each
// embedding dimension gets its own collection so models with different
// dimensions coexist during migrations.
type QdrantVectorDB struct {
	collectionsSvc qdrant.CollectionsClient
	pointsSvc      qdrant.PointsClient

	mu      sync.Mutex
	ensured map[int]bool
}

// NewQdrantVectorDB constructs a new wrapper from the gRPC connection.
func NewQdrantVectorDB(conn *grpc.ClientConn) (*QdrantVectorDB, error) {
	if conn == nil {
		return nil, errors.New("gRPC connection is required")
	}

	return &QdrantVectorDB{
		collectionsSvc: qdrant.NewCollectionsClient(conn),
		pointsSvc:      qdrant.NewPointsClient(conn),
		ensured:        make(map[int]bool),
	}, nil
}

func collectionName(dim int) string {
	return fmt.Sprintf("ragcore_dim_%d", dim)
}

// ensureCollection creates the collection for a dimension if it doesn't exist.
func (q *QdrantVectorDB) ensureCollection(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ensured[dim] {
		return nil
	}

	name := collectionName(dim)
	collections, err := q.collectionsSvc.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	exists := false
	for _, coll := range collections.Collections {
		if coll.Name == name {
			exists = true
			break
		}
	}

	if !exists {
		_, err = q.collectionsSvc.Create(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: &qdrant.VectorsConfig{
				Config: &qdrant.VectorsConfig_Params{
					Params: &qdrant.VectorParams{
						Size:     uint64(dim),
						Distance: qdrant.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
		log.Printf("Created Qdrant collection %s", name)
	}

	q.ensured[dim] = true
	return nil
}

// Upsert stores or updates a batch of points.
func (q *QdrantVectorDB) Upsert(ctx context.Context, dim int, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, dim); err != nil {
		return err
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("point %s has dimension %d, collection expects %d", p.ID, len(p.Vector), dim)
		}
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: p.ID}},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: p.Vector}},
			},
			Payload: encodePayload(p.Payload),
		})
	}

	_, err := q.pointsSvc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName(dim),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}

	return nil
}

// Search performs a similarity search with the visibility filter pushed down
// to the index.
func (q *QdrantVectorDB) Search(ctx context.Context, dim int, queryVector []float32, topK int, threshold float32, scope Scope) ([]Match, error) {
	if len(queryVector) == 0 {
		return nil, errors.New("query vector cannot be empty")
	}
	if len(queryVector) != dim {
		return nil, fmt.Errorf("query vector has dimension %d, collection expects %d", len(queryVector), dim)
	}
	if topK <= 0 {
		topK = 10
	}
	if err := q.ensureCollection(ctx, dim); err != nil {
		return nil, err
	}

	req := &qdrant.SearchPoints{
		CollectionName: collectionName(dim),
		Vector:         queryVector,
		Limit:          uint64(topK),
		Filter:         scopeFilter(scope),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: false}},
	}
	if threshold > 0 {
		req.ScoreThreshold = &threshold
	}

	searchResult, err := q.pointsSvc.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]Match, 0, len(searchResult.Result))
	for _, scoredPoint := range searchResult.Result {
		var pointID string
		if scoredPoint.Id != nil {
			if uuid := scoredPoint.Id.GetUuid(); uuid != "" {
				pointID = uuid
			} else if num := scoredPoint.Id.GetNum(); num != 0 {
				pointID = fmt.Sprintf("%d", num)
			}
		}

		matches = append(matches, Match{
			ID:      pointID,
			Score:   scoredPoint.Score,
			Payload: decodePayload(scoredPoint.Payload),
		})
	}

	return matches, nil
}

// DeleteByAsset removes all points belonging to an asset.
func (q *QdrantVectorDB) DeleteByAsset(ctx context.Context, dim int, assetID string) error {
	if err := q.ensureCollection(ctx, dim); err != nil {
		return err
	}

	_, err := q.pointsSvc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionName(dim),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition("asset_id", assetID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for asset %s: %w", assetID, err)
	}
	return nil
}

// CountByAsset returns the number of points stored for an asset. The
// reconcile job compares this against the chunk count in the metadata store.
func (q *QdrantVectorDB) CountByAsset(ctx context.Context, dim int, assetID string) (int, error) {
	if err := q.ensureCollection(ctx, dim); err != nil {
		return 0, err
	}

	exact := true
	result, err := q.pointsSvc.Count(ctx, &qdrant.CountPoints{
		CollectionName: collectionName(dim),
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition("asset_id", assetID)}},
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points for asset %s: %w", assetID, err)
	}
	if result.Result == nil {
		return 0, nil
	}
	return int(result.Result.Count), nil
}

// PointCount returns the total number of points in a dimension's collection.
func (q *QdrantVectorDB) PointCount(ctx context.Context, dim int) (int, error) {
	if err := q.ensureCollection(ctx, dim); err != nil {
		return 0, err
	}

	info, err := q.collectionsSvc.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: collectionName(dim),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get collection info: %w", err)
	}

	if info.Result == nil || info.Result.PointsCount == nil {
		return 0, nil
	}
	return int(*info.Result.PointsCount), nil
}

// scopeFilter builds the Qdrant filter for a caller's visibility set:
// (project matches OR public), AND-combined with asset and document type
// filters when present.
func scopeFilter(scope Scope) *qdrant.Filter {
	filter := &qdrant.Filter{}

	if !scope.Admin {
		filter.Must = append(filter.Must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{
				Filter: &qdrant.Filter{
					Should: []*qdrant.Condition{
						keywordCondition("project_id", scope.ProjectID),
						keywordCondition("visibility", "public"),
					},
				},
			},
		})
	}

	if scope.AssetID != "" {
		filter.Must = append(filter.Must, keywordCondition("asset_id", scope.AssetID))
	}

	if len(scope.DocumentTypes) > 0 {
		should := make([]*qdrant.Condition, 0, len(scope.DocumentTypes))
		for _, dt := range scope.DocumentTypes {
			should = append(should, keywordCondition("document_type", dt))
		}
		filter.Must = append(filter.Must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{Filter: &qdrant.Filter{Should: should}},
		})
	}

	if len(filter.Must) == 0 {
		return nil
	}
	return filter
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func encodePayload(p Payload) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"asset_id":        stringValue(p.AssetID),
		"project_id":      stringValue(p.ProjectID),
		"visibility":      stringValue(p.Visibility),
		"content":         stringValue(p.Content),
		"section_path":    stringValue(p.SectionPath),
		"embedding_model": stringValue(p.EmbeddingModel),
		"seq":             {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.Seq)}},
	}
	if p.DocumentType != "" {
		payload["document_type"] = stringValue(p.DocumentType)
	}
	if p.Page != nil {
		payload["page"] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(*p.Page)}}
	}
	return payload
}

func decodePayload(values map[string]*qdrant.Value) Payload {
	p := Payload{}
	if values == nil {
		return p
	}
	p.AssetID = values["asset_id"].GetStringValue()
	p.ProjectID = values["project_id"].GetStringValue()
	p.Visibility = values["visibility"].GetStringValue()
	p.DocumentType = values["document_type"].GetStringValue()
	p.Content = values["content"].GetStringValue()
	p.SectionPath = values["section_path"].GetStringValue()
	p.EmbeddingModel = values["embedding_model"].GetStringValue()
	if v, ok := values["seq"]; ok {
		p.Seq = int(v.GetIntegerValue())
	}
	if v, ok := values["page"]; ok && v.GetKind() != nil {
		if _, isInt := v.GetKind().(*qdrant.Value_IntegerValue); isInt {
			page := int(v.GetIntegerValue())
			p.Page = &page
		}
	}
	return p
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}
