package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"gridcat/internal/domain"
)

const (
	mongoFetchTimeout = 30 * time.Second
	mongoSampleSize   = 100
)

// mongoCatalog exposes the collections of one database. Collections with
// varying documents still get a fixed Schema: it is inferred once from a
// sample and missing fields render as nulls.
type mongoCatalog struct {
	client *mongo.Client
	uri    string
	dbName string
	closed bool
	mu     sync.Mutex
}

func openMongoCatalog(uri string) (*mongoCatalog, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoCatalog{client: client, uri: uri, dbName: mongoDBName(uri)}, nil
}

// mongoDBName pulls the database from the URI path, defaulting to "test"
// like the shell does.
func mongoDBName(uri string) string {
	rest := uri
	if idx := strings.Index(rest, "://"); idx != -1 {
		rest = rest[idx+3:]
	}
	if idx := strings.Index(rest, "@"); idx != -1 {
		rest = rest[idx+1:]
	}
	if idx := strings.Index(rest, "/"); idx != -1 {
		rest = rest[idx+1:]
		if q := strings.Index(rest, "?"); q != -1 {
			rest = rest[:q]
		}
		if rest != "" {
			return rest
		}
	}
	return "test"
}

func (c *mongoCatalog) Location() string { return c.uri }

func (c *mongoCatalog) Tables(ctx context.Context) ([]string, error) {
	if c.isClosed() {
		return nil, domain.ErrSourceUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, mongoFetchTimeout)
	defer cancel()

	names, err := c.client.Database(c.dbName).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", wrapMongoErr(err))
	}
	naturalSort(names)
	return names, nil
}

func (c *mongoCatalog) Open(collection string) (TabularSource, error) {
	if c.isClosed() {
		return nil, domain.ErrSourceUnavailable
	}
	return &mongoSource{catalog: c, collection: collection}, nil
}

func (c *mongoCatalog) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mongoCatalog) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// mongoSource serves one collection with native sort/skip/limit pushdown.
// Sort order for missing/null fields follows server semantics (nulls first
// ascending), a documented deviation from the file-backed sources.
type mongoSource struct {
	catalog    *mongoCatalog
	collection string

	mu     sync.Mutex
	schema domain.Schema
}

func (s *mongoSource) ID() string {
	return sourceID(s.catalog.uri, s.collection)
}

func (s *mongoSource) coll() *mongo.Collection {
	return s.catalog.client.Database(s.catalog.dbName).Collection(s.collection)
}

func (s *mongoSource) Schema(ctx context.Context) (domain.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema != nil {
		return s.schema, nil
	}
	if s.catalog.isClosed() {
		return nil, domain.ErrSourceUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, mongoFetchTimeout)
	defer cancel()

	opts := options.Find().SetLimit(mongoSampleSize)
	cursor, err := s.coll().Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("sample collection: %w", wrapMongoErr(err))
	}
	defer cursor.Close(ctx)

	seen := map[string]domain.ColumnType{}
	var order []string
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode sample: %w", err)
		}
		for _, elem := range doc {
			t := mongoColumnType(elem.Value)
			if prev, ok := seen[elem.Key]; !ok {
				seen[elem.Key] = t
				order = append(order, elem.Key)
			} else if prev != t && t != domain.ColumnBlob {
				// Conflicting types across documents degrade to text.
				seen[elem.Key] = domain.ColumnText
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("sample cursor: %w", wrapMongoErr(err))
	}

	// _id first, then first-seen order.
	sort.SliceStable(order, func(i, j int) bool { return order[i] == "_id" && order[j] != "_id" })

	schema := make(domain.Schema, 0, len(order))
	for _, name := range order {
		schema = append(schema, domain.Column{Name: name, Type: seen[name]})
	}
	if len(schema) == 0 {
		schema = domain.Schema{{Name: "_id", Type: domain.ColumnText}}
	}
	s.schema = schema
	return schema, nil
}

func (s *mongoSource) RowCount(ctx context.Context) (int64, error) {
	return s.count(ctx, bson.D{})
}

func (s *mongoSource) count(ctx context.Context, filter any) (int64, error) {
	if s.catalog.isClosed() {
		return 0, domain.ErrSourceUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, mongoFetchTimeout)
	defer cancel()

	n, err := s.coll().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count: %w", wrapMongoErr(err))
	}
	return n, nil
}

func (s *mongoSource) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if !req.Sort.IsNone() {
		if !schema.HasColumn(req.Sort.Column) {
			return nil, fmt.Errorf("column %d: %w", req.Sort.Column, domain.ErrInvalidSort)
		}
		if !schema[req.Sort.Column].Type.Sortable() {
			return nil, fmt.Errorf("column %q: %w", schema[req.Sort.Column].Name, domain.ErrInvalidSort)
		}
	}

	filter := s.buildFilter(schema, req.Filter)
	total, err := s.count(ctx, filter)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSkip(int64(req.Offset())).
		SetLimit(int64(req.Size))
	if !req.Sort.IsNone() {
		dir := 1
		if req.Sort.Direction == domain.SortDescending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: schema[req.Sort.Column].Name, Value: dir}})
	}

	fetchCtx, cancel := context.WithTimeout(ctx, mongoFetchTimeout)
	defer cancel()

	cursor, err := s.coll().Find(fetchCtx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", wrapMongoErr(err))
	}
	defer cursor.Close(fetchCtx)

	rows := make([][]any, 0, req.Size)
	for cursor.Next(fetchCtx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		docMap := make(map[string]any, len(doc))
		for _, elem := range doc {
			docMap[elem.Key] = elem.Value
		}
		row := make([]any, len(schema))
		for j, col := range schema {
			if v, ok := docMap[col.Name]; ok {
				row[j] = formatMongoValue(v)
			}
		}
		rows = append(rows, row)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", wrapMongoErr(err))
	}

	return &domain.PageResult{
		Request:   req,
		Columns:   schema,
		Rows:      rows,
		TotalRows: total,
	}, nil
}

// buildFilter translates the whole-table search into a case-insensitive
// regex across the text columns.
func (s *mongoSource) buildFilter(schema domain.Schema, filter string) any {
	if filter == "" {
		return bson.D{}
	}
	pattern := regexp.QuoteMeta(filter)
	var or bson.A
	for _, col := range schema {
		if col.Type != domain.ColumnText {
			continue
		}
		or = append(or, bson.D{{
			Key:   col.Name,
			Value: bson.D{{Key: "$regex", Value: pattern}, {Key: "$options", Value: "i"}},
		}})
	}
	if len(or) == 0 {
		// No text columns to match; an impossible filter keeps the
		// contract (filters restrict, never error).
		return bson.D{{Key: "_id", Value: bson.D{{Key: "$exists", Value: false}}}}
	}
	return bson.D{{Key: "$or", Value: or}}
}

// Invalidate drops the sampled schema so a refresh re-infers it.
func (s *mongoSource) Invalidate() {
	s.mu.Lock()
	s.schema = nil
	s.mu.Unlock()
}

func (s *mongoSource) Close() error {
	// The catalog owns the client; collection handles are stateless.
	return nil
}

func mongoColumnType(v any) domain.ColumnType {
	switch v.(type) {
	case int32, int64, float64:
		return domain.ColumnNumeric
	case bool:
		return domain.ColumnBool
	case bson.DateTime, time.Time:
		return domain.ColumnTemporal
	case string, bson.ObjectID:
		return domain.ColumnText
	case bson.Binary:
		return domain.ColumnBlob
	default:
		return domain.ColumnText
	}
}

func formatMongoValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case bson.Binary:
		return val.Data
	case bson.D:
		m := make(map[string]any, len(val))
		for _, elem := range val {
			m[elem.Key] = formatMongoValue(elem.Value)
		}
		return fmt.Sprintf("%v", m)
	case bson.A:
		return fmt.Sprintf("%v", []any(val))
	default:
		return val
	}
}

func wrapMongoErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}
