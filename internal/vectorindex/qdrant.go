package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// pointNamespace seeds name-based point ids so a listing always maps to the
// same Qdrant point.
var pointNamespace = uuid.MustParse("6f1c2b8e-5d4a-4c1e-9a7b-3e2f1d0c9b8a")

// PointID is the Qdrant point id for a listing id.
func PointID(listingID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(listingID)).String()
}

type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Qdrant is the Index backed by a Qdrant collection over gRPC.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string
	dims        int
	logger      *slog.Logger
}

var _ Index = (*Qdrant)(nil)

// NewQdrant connects to Qdrant's gRPC endpoint at addr.
func NewQdrant(addr, collection string, dims int) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing qdrant %s: %w", addr, err)
	}
	q := newQdrant(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, dims)
	q.conn = conn
	return q, nil
}

func newQdrant(points pointsClient, collections collectionsClient, collection string, dims int) *Qdrant {
	return &Qdrant{
		points:      points,
		collections: collections,
		collection:  collection,
		dims:        dims,
		logger:      slog.Default().With("component", "qdrant", "collection", collection),
	}
}

func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureCollection creates the cosine collection if it does not exist.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing qdrant collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating qdrant collection %s: %w", q.collection, err)
	}
	q.logger.Info("collection created", "dims", q.dims)
	return nil
}

// Ping is used by readiness checks.
func (q *Qdrant) Ping(ctx context.Context) error {
	_, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	return err
}

// Upsert writes all records in one call and waits for Qdrant to apply them.
func (q *Qdrant) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if q.dims > 0 && len(r.Vector) != q.dims {
			return fmt.Errorf("%w: listing %s has %d dims, want %d", ErrDimension, r.ID, len(r.Vector), q.dims)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: payloadFor(r),
		}
	}
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points: %w", len(records), err)
	}
	return nil
}

func payloadFor(r Record) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(r.Metadata)+3)
	for k, v := range r.Metadata {
		payload[k] = stringValue(v)
	}
	payload[MetaListingID] = stringValue(r.ID)
	payload[MetaDocument] = stringValue(r.Document)
	embeddedAt := r.EmbeddedAt
	if embeddedAt.IsZero() {
		embeddedAt = time.Now().UTC()
	}
	payload[MetaEmbeddedAt] = stringValue(embeddedAt.Format(time.RFC3339))
	return payload
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// Query returns the topK nearest records, best first.
func (q *Qdrant) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if q.dims > 0 && len(vector) != q.dims {
		return nil, fmt.Errorf("%w: query has %d dims, want %d", ErrDimension, len(vector), q.dims)
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("searching qdrant: %w", err)
	}
	matches := make([]Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		m := Match{
			// Qdrant reports cosine similarity as the score.
			Distance: 1 - float64(r.GetScore()),
			Metadata: make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			s := v.GetStringValue()
			switch k {
			case MetaListingID:
				m.ID = s
			case MetaDocument:
				m.Document = s
			default:
				m.Metadata[k] = s
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Delete removes the records of the given listings.
func (q *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}
	}
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}
	return nil
}

// Count returns the exact number of stored records.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}
