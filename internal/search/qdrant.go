package search

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// pointsAPI is the subset of *qdrant.Client used here.
type pointsAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	Host       string
	Port       int // gRPC port, default 6334
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
	BatchSize  int // chunks per embedding request
}

// QdrantIndex stores one point per chunk, tagged with its document id and
// position, and answers queries by cosine similarity within one document.
type QdrantIndex struct {
	client     pointsAPI
	embed      Embedder
	collection string
	vectorSize uint64
	batchSize  int
}

// NewQdrantIndex connects to Qdrant and creates the collection if missing.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, embed Embedder) (*QdrantIndex, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	x := newQdrantIndex(client, embed, cfg)
	if err := x.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return x, nil
}

func newQdrantIndex(client pointsAPI, embed Embedder, cfg QdrantConfig) *QdrantIndex {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &QdrantIndex{
		client:     client,
		embed:      embed,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		batchSize:  cfg.BatchSize,
	}
}

func (*QdrantIndex) Name() string { return "qdrant" }

func (x *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     x.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %q: %w", x.collection, err)
	}
	return nil
}

// pointID is stable per (document, position) so re-indexing overwrites.
func pointID(documentID string, pos int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentID+"#"+strconv.Itoa(pos))).String()
}

// Index embeds chunks in batches and upserts them.
func (x *QdrantIndex) Index(ctx context.Context, documentID string, chunks []string) error {
	for start := 0; start < len(chunks); start += x.batchSize {
		end := min(start+x.batchSize, len(chunks))
		batch := chunks[start:end]

		vecs, err := x.embed.Embed(ctx, batch)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end, len(vecs))
		}

		points := make([]*qdrant.PointStruct, len(batch))
		for i, text := range batch {
			pos := start + i
			points[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(pointID(documentID, pos)),
				Vectors: qdrant.NewVectors(vecs[i]...),
				Payload: qdrant.NewValueMap(map[string]any{
					"document_id": documentID,
					"position":    int64(pos),
					"text":        text,
				}),
			}
		}
		wait := true
		if _, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: x.collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert: %w", err)
		}
	}
	return nil
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
	}
}

// Search embeds the question and returns the k nearest chunks of the document.
func (x *QdrantIndex) Search(ctx context.Context, documentID, question string, k int) ([]Result, error) {
	if k <= 0 {
		k = 3
	}
	vecs, err := x.embed.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed question: got %d vectors", len(vecs))
	}

	limit := uint64(k)
	points, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(vecs[0]...),
		Filter:         documentFilter(documentID),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	out := make([]Result, 0, len(points))
	for _, p := range points {
		text := ""
		if v, ok := p.GetPayload()["text"]; ok {
			text = v.GetStringValue()
		}
		if text == "" {
			continue
		}
		out = append(out, Result{Text: text, Score: float64(p.GetScore())})
	}
	return out, nil
}

// Delete removes every point of the document.
func (x *QdrantIndex) Delete(ctx context.Context, documentID string) error {
	wait := true
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (x *QdrantIndex) Close() error { return x.client.Close() }
