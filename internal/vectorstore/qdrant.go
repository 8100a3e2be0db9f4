package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantBackend stores vectors in a remote qdrant instance over gRPC.
type QdrantBackend struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// qdrant point ids must be UUIDs or integers; chunk ids are free-form
// strings, so point ids are derived deterministically and the chunk id
// travels in the payload.
var chunkIDNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("chie/chunk"))

func pointID(chunkID string) string {
	return uuid.NewSHA1(chunkIDNamespace, []byte(chunkID)).String()
}

// NewQdrantBackend connects to qdrant at the given gRPC address.
func NewQdrantBackend(addr string) (*QdrantBackend, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	return &QdrantBackend{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Type returns the backend type identifier.
func (q *QdrantBackend) Type() string { return "qdrant" }

// EnsureCollection creates the collection if it does not exist.
func (q *QdrantBackend) EnsureCollection(ctx context.Context, collection string, dimensions int, metric Metric) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return storeErr("list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == collection {
			return nil
		}
	}
	distance := pb.Distance_Cosine
	if metric == MetricDot {
		distance = pb.Distance_Dot
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimensions),
					Distance: distance,
				},
			},
		},
	})
	if err != nil {
		return storeErr(fmt.Sprintf("create collection %s", collection), err)
	}
	return nil
}

// DropCollection deletes the collection.
func (q *QdrantBackend) DropCollection(ctx context.Context, collection string) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
	if err != nil {
		return storeErr(fmt.Sprintf("delete collection %s", collection), err)
	}
	return nil
}

// Upsert writes records as qdrant points with the chunk metadata as payload.
func (q *QdrantBackend) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]*pb.Value{
			"chunk_id":    {Kind: &pb.Value_StringValue{StringValue: r.ChunkID}},
			"document_id": {Kind: &pb.Value_StringValue{StringValue: r.DocumentID}},
			"ordinal":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.Ordinal)}},
		}
		for k, v := range r.Payload {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(r.ChunkID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: payload,
		}
	}
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return storeErr(fmt.Sprintf("upsert %d points", len(records)), err)
	}
	return nil
}

// Delete removes points by chunk id. Missing ids are ignored by qdrant.
func (q *QdrantBackend) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*pb.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(id)}}
	}
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return storeErr(fmt.Sprintf("delete %d points", len(chunkIDs)), err)
	}
	return nil
}

// Search performs k-NN search with optional payload filters.
func (q *QdrantBackend) Search(ctx context.Context, collection string, query []float32, topK int, filters map[string]string) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         query,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, v := range filters {
			must = append(must, fieldMatch(k, v))
		}
		req.Filter = &pb.Filter{Must: must}
	}
	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, storeErr("search", err)
	}
	results := make([]Result, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = Result{
			Score:      float64(r.GetScore()),
			ChunkID:    r.GetPayload()["chunk_id"].GetStringValue(),
			DocumentID: r.GetPayload()["document_id"].GetStringValue(),
			Ordinal:    int(r.GetPayload()["ordinal"].GetIntegerValue()),
		}
	}
	// qdrant orders by score only; re-sort so equal scores break by ordinal.
	sortResults(results)
	return results, nil
}

// Count returns the exact number of points in a collection.
func (q *QdrantBackend) Count(ctx context.Context, collection string) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, storeErr("count", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Scan pages through the collection with the scroll API, vectors included.
func (q *QdrantBackend) Scan(ctx context.Context, collection string, fn func(Record) error) error {
	const pageSize = uint32(256)
	var offset *pb.PointId
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		limit := pageSize
		resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return storeErr("scroll", err)
		}
		for _, p := range resp.GetResult() {
			payload := map[string]string{}
			for k, v := range p.GetPayload() {
				switch k {
				case "chunk_id", "document_id", "ordinal":
				default:
					payload[k] = valueString(v)
				}
			}
			r := Record{
				ChunkID:    p.GetPayload()["chunk_id"].GetStringValue(),
				DocumentID: p.GetPayload()["document_id"].GetStringValue(),
				Ordinal:    int(p.GetPayload()["ordinal"].GetIntegerValue()),
				Vector:     p.GetVectors().GetVector().GetData(),
			}
			if len(payload) > 0 {
				r.Payload = payload
			}
			if err := fn(r); err != nil {
				return err
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return nil
		}
	}
}

// Close closes the underlying gRPC connection.
func (q *QdrantBackend) Close() error { return q.conn.Close() }

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func valueString(v *pb.Value) string {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *pb.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'g', -1, 64)
	case *pb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}
