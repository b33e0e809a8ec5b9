package dbclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"mdsync/internal/domain"
	"mdsync/internal/etl"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoConnector stages trips as documents keyed by the natural key.
type mongoConnector struct {
	client *mongo.Client
	coll   *mongo.Collection
	key    string
}

func newMongoConnector(conn *domain.StagingConnection, password string) (*mongoConnector, error) {
	uri := buildMongoURI(conn, password)

	dbName := conn.Database
	if dbName == "" {
		dbName = "mds"
	}
	table, key := conn.Table, conn.KeyColumn
	if table == "" {
		table = "trips"
	}
	if key == "" {
		key = etl.DefaultDedupeKey
	}

	// Mask password in URI for logging
	logURI := uri
	if password != "" {
		logURI = strings.ReplaceAll(logURI, password, "***")
	}
	log.Printf("[MONGO] Connecting with URI: %s", logURI)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	return &mongoConnector{
		client: client,
		coll:   client.Database(dbName).Collection(table),
		key:    key,
	}, nil
}

// buildMongoURI accepts a full mongodb:// or mongodb+srv:// host, or builds
// one from host:port with Extra as query parameters.
func buildMongoURI(conn *domain.StagingConnection, password string) string {
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri := conn.Host
		// Replace <password> placeholder commonly found in Atlas connection strings
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
		return uri
	}

	port := conn.Port
	if port == 0 {
		port = 27017
	}
	var uri string
	if conn.Username != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, password, conn.Host, port)
	} else {
		uri = fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
	}

	if len(conn.Extra) > 0 {
		params := make([]string, 0, len(conn.Extra))
		for k, v := range conn.Extra {
			params = append(params, k+"="+v)
		}
		sort.Strings(params)
		uri += "?" + strings.Join(params, "&")
	}
	return uri
}

func (m *mongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoConnector) MostRecent(ctx context.Context, providerID, field string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.FindOne().
		SetSort(bson.D{{Key: field, Value: -1}}).
		SetProjection(bson.D{{Key: field, Value: 1}})

	var doc bson.M
	err := m.coll.FindOne(ctx, bson.D{{Key: "provider_id", Value: providerID}}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("most recent %s: %w", field, err)
	}
	if dt, ok := doc[field].(bson.DateTime); ok {
		return checkpointString(dt.Time()), nil
	}
	return checkpointString(doc[field]), nil
}

// Upsert replaces each document by key, inserting when absent.
func (m *mongoConnector) Upsert(ctx context.Context, batch *etl.Batch) (int, error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, batch.Len())
	for _, rec := range batch.Records {
		doc := make(bson.D, 0, len(batch.Columns))
		for _, c := range batch.Columns {
			doc = append(doc, bson.E{Key: c, Value: rec.Data[c]})
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: m.key, Value: rec.Data[m.key]}}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	if _, err := m.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return 0, fmt.Errorf("bulk upsert: %w", err)
	}
	return len(models), nil
}

func (m *mongoConnector) ClearRange(ctx context.Context, providerID, from, to string) (int, error) {
	filter := bson.D{
		{Key: "provider_id", Value: providerID},
		{Key: etl.CheckpointField, Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lt", Value: to}}},
	}
	res, err := m.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("clear range: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (m *mongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
