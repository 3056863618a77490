package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedQuery "github.com/davicafu/productregistry/internal/shared/infra/platform/query"
)

// ProductViewRepoMongoDB guarda una vista por documento en la colección product_views.
type ProductViewRepoMongoDB struct {
	views *mongo.Collection
}

func NewProductViewRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*ProductViewRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	coll := client.Database(dbName).Collection("product_views")
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "skuId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("failed to create skuId index: %w", err)
	}
	return &ProductViewRepoMongoDB{views: coll}, nil
}

// --- Structs de BSON para el mapeo ---

type mongoCatalogRef struct {
	ID   string `bson:"id"`
	Name string `bson:"name"`
}

type mongoEventRecord struct {
	Type      string    `bson:"type"`
	Timestamp time.Time `bson:"timestamp"`
	Sequence  int64     `bson:"sequence"`
	Payload   string    `bson:"payload"`
}

type mongoProductView struct {
	ID          string             `bson:"_id"`
	Version     int64              `bson:"version"`
	SkuID       string             `bson:"skuId"`
	Name        string             `bson:"name"`
	Description string             `bson:"description"`
	Status      string             `bson:"status"`
	Catalogs    []mongoCatalogRef  `bson:"catalogs"`
	Events      []mongoEventRecord `bson:"events"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

// mongoFields traduce los campos lógicos de los criterios a claves del documento.
var mongoFields = map[string]string{
	"sku_id":     "skuId",
	"name":       "name",
	"status":     "status",
	"updated_at": "updatedAt",
}

func (r *ProductViewRepoMongoDB) Save(ctx context.Context, v *productDomain.ProductView, expectedVersion int64) error {
	doc := toMongoView(v)

	if expectedVersion == 0 {
		if _, err := r.views.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: view %s already exists", productDomain.ErrViewVersionMismatch, v.ID)
			}
			return fmt.Errorf("failed to insert view: %w", err)
		}
		return nil
	}

	res, err := r.views.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": expectedVersion}, doc)
	if err != nil {
		return fmt.Errorf("failed to replace view: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: view %s is not at version %d", productDomain.ErrViewVersionMismatch, v.ID, expectedVersion)
	}
	return nil
}

func (r *ProductViewRepoMongoDB) FindByID(ctx context.Context, id uuid.UUID) (*productDomain.ProductView, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *ProductViewRepoMongoDB) FindBySku(ctx context.Context, sku string) (*productDomain.ProductView, error) {
	return r.findOne(ctx, bson.M{"skuId": sku})
}

func (r *ProductViewRepoMongoDB) findOne(ctx context.Context, filter bson.M) (*productDomain.ProductView, error) {
	var doc mongoProductView
	if err := r.views.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, productDomain.ErrProductNotFound
		}
		return nil, err
	}
	return fromMongoView(&doc)
}

func (r *ProductViewRepoMongoDB) Search(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]*productDomain.ProductView, int64, error) {
	filter, err := criteriaToMongoFilter(criteria)
	if err != nil {
		return nil, 0, err
	}

	total, err := r.views.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count views: %w", err)
	}

	sortKey, ok := mongoFields[sort.Field]
	if !ok {
		sortKey = "skuId"
	}
	sortDir := 1
	if sort.Desc {
		sortDir = -1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: sortKey, Value: sortDir}, {Key: "_id", Value: 1}}).
		SetSkip(int64(page.Offset)).
		SetLimit(int64(page.Limit))

	cursor, err := r.views.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	views := []*productDomain.ProductView{}
	for cursor.Next(ctx) {
		var doc mongoProductView
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, err
		}
		v, err := fromMongoView(&doc)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, v)
	}
	return views, total, cursor.Err()
}

// --- Helpers de Mapeo y Conversión ---

func toMongoView(v *productDomain.ProductView) *mongoProductView {
	doc := &mongoProductView{
		ID:          v.ID.String(),
		Version:     v.Version,
		SkuID:       v.SkuID,
		Name:        v.Name,
		Description: v.Description,
		Status:      string(v.Status),
		Catalogs:    make([]mongoCatalogRef, 0, len(v.Catalogs)),
		Events:      make([]mongoEventRecord, 0, len(v.Events)),
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
	for _, c := range v.Catalogs {
		doc.Catalogs = append(doc.Catalogs, mongoCatalogRef{ID: c.ID.String(), Name: c.Name})
	}
	for _, e := range v.Events {
		doc.Events = append(doc.Events, mongoEventRecord{
			Type: string(e.Type), Timestamp: e.Timestamp, Sequence: e.Sequence, Payload: string(e.Payload),
		})
	}
	return doc
}

func fromMongoView(doc *mongoProductView) (*productDomain.ProductView, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in DB: %w", err)
	}
	v := &productDomain.ProductView{
		ID:          id,
		Version:     doc.Version,
		SkuID:       doc.SkuID,
		Name:        doc.Name,
		Description: doc.Description,
		Status:      productDomain.Status(doc.Status),
		Catalogs:    make([]productDomain.CatalogRef, 0, len(doc.Catalogs)),
		Events:      make([]productDomain.EventRecord, 0, len(doc.Events)),
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
	for _, c := range doc.Catalogs {
		catalogID, err := uuid.Parse(c.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid catalog UUID in DB: %w", err)
		}
		v.Catalogs = append(v.Catalogs, productDomain.CatalogRef{ID: catalogID, Name: c.Name})
	}
	for _, e := range doc.Events {
		v.Events = append(v.Events, productDomain.EventRecord{
			Type:      productDomain.EventType(e.Type),
			Timestamp: e.Timestamp.UTC(),
			Sequence:  e.Sequence,
			Payload:   []byte(e.Payload),
		})
	}
	return v, nil
}

func criteriaToMongoFilter(criteria sharedDomain.Criteria) (bson.D, error) {
	if criteria == nil {
		return bson.D{}, nil
	}
	conds := criteria.ToConditions()
	if len(conds) == 0 {
		return bson.D{}, nil
	}

	clauses := make([]bson.D, 0, len(conds))
	for _, c := range conds {
		key, ok := mongoFields[c.Field]
		if !ok {
			return nil, fmt.Errorf("unsupported filter field %q", c.Field)
		}

		// Mapeo de operadores genéricos a operadores de MongoDB
		var clause bson.M
		switch c.Op {
		case sharedDomain.OpGt:
			clause = bson.M{"$gt": c.Value}
		case sharedDomain.OpGte:
			clause = bson.M{"$gte": c.Value}
		case sharedDomain.OpLt:
			clause = bson.M{"$lt": c.Value}
		case sharedDomain.OpLte:
			clause = bson.M{"$lte": c.Value}
		case sharedDomain.OpLike, sharedDomain.OpILike:
			clause = bson.M{"$regex": sharedDomain.LikeToRegexp(fmt.Sprint(c.Value))}
			if c.Op == sharedDomain.OpILike {
				clause["$options"] = "i"
			}
		default:
			clause = bson.M{"$eq": c.Value}
		}
		clauses = append(clauses, bson.D{{Key: key, Value: clause}})
	}

	if len(clauses) == 1 {
		return clauses[0], nil
	}
	joined := bson.A{}
	for _, c := range clauses {
		joined = append(joined, c)
	}
	if sharedDomain.LogicalOf(criteria) == sharedDomain.OpOr {
		return bson.D{{Key: "$or", Value: joined}}, nil
	}
	return bson.D{{Key: "$and", Value: joined}}, nil
}

var _ productDomain.ProductViewRepository = (*ProductViewRepoMongoDB)(nil)
