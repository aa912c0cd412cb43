package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/voxelgen/internal/logging"
)

// MongoJournal пишет журнал генерации в MongoDB.
type MongoJournal struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
	log        *logging.Logger
}

type mongoJournalDoc struct {
	JobID       string    `bson:"job_id"`
	Seed        int64     `bson:"seed"`
	ChunkX      int       `bson:"chunk_x"`
	ChunkZ      int       `bson:"chunk_z"`
	ContentHash string    `bson:"content_hash"`
	VertexCount int       `bson:"vertex_count"`
	Origin      string    `bson:"origin"`
	DurationMs  int64     `bson:"duration_ms"`
	CreatedAt   time.Time `bson:"created_at"`
}

// NewMongoJournal подключается по URI вида mongodb://localhost:27017
// и готовит коллекцию voxelgen.generation_log.
func NewMongoJournal(uri string) (*MongoJournal, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("MongoDB не отвечает: %w", err)
	}

	j := &MongoJournal{
		client:     client,
		collection: client.Database("voxelgen").Collection("generation_log"),
		ctxTimeout: 5 * time.Second,
		log:        logging.GetStorageLogger(),
	}
	if err := j.ensureIndexes(); err != nil {
		return nil, fmt.Errorf("не удалось создать индексы журнала: %w", err)
	}

	j.log.Info("Журнал генерации MongoDB подключен")
	return j, nil
}

func (j *MongoJournal) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.ctxTimeout)
	defer cancel()

	seedIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "seed", Value: 1}},
		Options: options.Index().SetName("seed_idx"),
	}
	createdIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: -1}},
		Options: options.Index().SetName("created_desc_idx"),
	}
	_, err := j.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{seedIdx, createdIdx})
	return err
}

// Record добавляет запись в журнал.
func (j *MongoJournal) Record(ctx context.Context, entry *JournalEntry) error {
	doc := mongoJournalDoc{
		JobID:       entry.ID,
		Seed:        entry.Seed,
		ChunkX:      entry.ChunkX,
		ChunkZ:      entry.ChunkZ,
		ContentHash: entry.ContentHash,
		VertexCount: entry.VertexCount,
		Origin:      entry.Origin,
		DurationMs:  entry.DurationMs,
		CreatedAt:   entry.CreatedAt,
	}
	if _, err := j.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("ошибка записи в журнал MongoDB: %w", err)
	}
	return nil
}

// Recent возвращает последние записи, новые первыми.
func (j *MongoJournal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := j.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала MongoDB: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []JournalEntry
	for cursor.Next(ctx) {
		var doc mongoJournalDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("ошибка декодирования записи журнала: %w", err)
		}
		entries = append(entries, JournalEntry{
			ID:          doc.JobID,
			Seed:        doc.Seed,
			ChunkX:      doc.ChunkX,
			ChunkZ:      doc.ChunkZ,
			ContentHash: doc.ContentHash,
			VertexCount: doc.VertexCount,
			Origin:      doc.Origin,
			DurationMs:  doc.DurationMs,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return entries, cursor.Err()
}

// CountBySeed возвращает число генераций для seed.
func (j *MongoJournal) CountBySeed(ctx context.Context, seed int64) (int64, error) {
	count, err := j.collection.CountDocuments(ctx, bson.M{"seed": seed})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей журнала: %w", err)
	}
	return count, nil
}

// Close разрывает подключение к MongoDB.
func (j *MongoJournal) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.ctxTimeout)
	defer cancel()
	return j.client.Disconnect(ctx)
}
