package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// pointsClient is the subset of pb.PointsClient used by VectorStore.
type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsClient is the subset of pb.CollectionsClient used by VectorStore.
type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore owns the vendor collection in Qdrant.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a VectorStore over existing clients.
func NewWithClients(points pointsClient, collections collectionsClient, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if it
// doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
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
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection drops the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	if _, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection}); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

func vendorPayload(vv VendorVector) map[string]*pb.Value {
	v := vv.Vendor
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	return map[string]*pb.Value{
		"vendor_id": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(v.ID)}},
		"shop_name": str(v.ShopName),
		"category":  str(v.Category),
		"address":   str(v.Address),
		"status":    str(string(v.Status)),
		"lat":       {Kind: &pb.Value_DoubleValue{DoubleValue: v.Location.Lat}},
		"lng":       {Kind: &pb.Value_DoubleValue{DoubleValue: v.Location.Lng}},
	}
}

// UpsertVendors stores vendor embeddings, one point per vendor.
func (v *VectorStore) UpsertVendors(ctx context.Context, vectors []VendorVector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(vectors))
	for i, vv := range vectors {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(vv.Vendor.ID)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vv.Embedding}},
			},
			Payload: vendorPayload(vv),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d vendors: %w", len(vectors), err)
	}
	return nil
}

// DeleteVendor removes a vendor's point. Deleting a missing point is not an
// error.
func (v *VectorStore) DeleteVendor(ctx context.Context, vendorID int) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(vendorID)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete vendor %d: %w", vendorID, err)
	}
	return nil
}

// Search returns the topK nearest vendors. filters match payload keywords
// exactly, e.g. {"status": "approved"}.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, val := range filters {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		p := r.GetPayload()
		id := int(p["vendor_id"].GetIntegerValue())
		if id == 0 {
			continue
		}
		hits = append(hits, Hit{
			VendorID: id,
			Score:    r.GetScore(),
			ShopName: p["shop_name"].GetStringValue(),
			Category: p["category"].GetStringValue(),
		})
	}
	return hits, nil
}

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
