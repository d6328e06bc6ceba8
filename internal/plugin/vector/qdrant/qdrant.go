package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiforum/rag-service/internal/config"
	"github.com/aiforum/rag-service/internal/model"
	registrymigrate "github.com/aiforum/rag-service/internal/registry/migrate"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// qdrantMigrator implements migrate.Migrator for Qdrant collection setup.
type qdrantMigrator struct{}

func (m *qdrantMigrator) Name() string { return "qdrant" }
func (m *qdrantMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorType != "qdrant" || !cfg.VectorMigrateAtStart {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	migrateCtx, cancel := context.WithTimeout(ctx, cfg.QdrantStartupTimeout)
	defer cancel()

	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("qdrant migrate: connect: %w", err)
	}
	defer conn.Close()

	client := pb.NewCollectionsClient(conn)
	collectionName := cfg.QdrantCollectionName

	// Check if collection exists
	_, err = client.Get(migrateCtx, &pb.GetCollectionInfoRequest{CollectionName: collectionName})
	if err == nil {
		return nil // collection exists
	}

	// Create collection with cosine distance
	_, err = client.Create(migrateCtx, &pb.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(cfg.EmbeddingDimension()),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 newUint64(16),
			EfConstruct:       newUint64(64),
			FullScanThreshold: newUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant migrate: create collection: %w", err)
	}
	log.Info("Created Qdrant collection", "name", collectionName)
	return nil
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &qdrantMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: missing config in context")
	}
	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &QdrantStore{
		points:         pb.NewPointsClient(conn),
		conn:           conn,
		collectionName: cfg.QdrantCollectionName,
	}, nil
}

type QdrantStore struct {
	points         pb.PointsClient
	conn           *grpc.ClientConn
	collectionName string
}

func (s *QdrantStore) IsEnabled() bool { return true }
func (s *QdrantStore) Name() string    { return "qdrant" }

func (s *QdrantStore) Search(ctx context.Context, embedding []float32, owner string, limit int, threshold float64) ([]registryvector.SearchResult, error) {
	scoreThreshold := float32(threshold)
	req := &pb.SearchPoints{
		CollectionName: s.collectionName,
		Vector:         embedding,
		Limit:          uint64(limit),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if owner = model.NormalizeCharacter(owner); owner != "" {
		req.Filter = &pb.Filter{
			Must: []*pb.Condition{ownerCondition(owner)},
		}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, &registrystore.UnavailableError{Backend: "qdrant", Err: err}
	}

	var results []registryvector.SearchResult
	for _, pt := range resp.GetResult() {
		r := registryvector.SearchResult{
			Similarity: float64(pt.GetScore()),
		}
		payload := pt.GetPayload()
		if id, err := uuid.Parse(pt.GetId().GetUuid()); err == nil {
			r.ID = id
		}
		if v, ok := payload["owner"]; ok {
			r.Owner = v.GetStringValue()
		}
		if v, ok := payload["content"]; ok {
			r.Content = v.GetStringValue()
		}
		if v, ok := payload["metadata"]; ok && v.GetStringValue() != "" {
			if err := json.Unmarshal([]byte(v.GetStringValue()), &r.Metadata); err != nil {
				log.Error("qdrant metadata decode error", "id", r.ID, "err", err)
			}
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *QdrantStore) InsertDocuments(ctx context.Context, docs []registryvector.InsertRequest) error {
	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		metadata, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("qdrant: encode metadata for %s: %w", d.SourceMessageID, err)
		}
		// Point id is derived from the source message id so re-ingesting the
		// same record overwrites rather than duplicates.
		pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.SourceMessageID))
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID.String()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: d.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				"source_message_id": {Kind: &pb.Value_StringValue{StringValue: d.SourceMessageID}},
				"owner":             {Kind: &pb.Value_StringValue{StringValue: model.NormalizeCharacter(d.Owner)}},
				"content":           {Kind: &pb.Value_StringValue{StringValue: d.Content}},
				"metadata":          {Kind: &pb.Value_StringValue{StringValue: string(metadata)}},
				"model":             {Kind: &pb.Value_StringValue{StringValue: d.ModelName}},
			},
		}
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
	})
	if err != nil {
		return &registrystore.UnavailableError{Backend: "qdrant", Err: err}
	}
	return nil
}

func (s *QdrantStore) DeleteByOwner(ctx context.Context, owner string) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{ownerCondition(model.NormalizeCharacter(owner))},
				},
			},
		},
	})
	if err != nil {
		return &registrystore.UnavailableError{Backend: "qdrant", Err: err}
	}
	return nil
}

func (s *QdrantStore) CountDocuments(ctx context.Context) (int64, error) {
	return s.count(ctx, nil)
}

func (s *QdrantStore) CountDocumentsByOwner(ctx context.Context, owner string) (int64, error) {
	return s.count(ctx, &pb.Filter{
		Must: []*pb.Condition{ownerCondition(model.NormalizeCharacter(owner))},
	})
}

func (s *QdrantStore) count(ctx context.Context, filter *pb.Filter) (int64, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collectionName,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, &registrystore.UnavailableError{Backend: "qdrant", Err: err}
	}
	return int64(resp.GetResult().GetCount()), nil
}

func ownerCondition(owner string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: "owner",
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: owner},
				},
			},
		},
	}
}

func newUint64(v uint64) *uint64 {
	return &v
}

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}
