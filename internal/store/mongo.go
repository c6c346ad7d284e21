package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/blacktop/xpostd/internal/xpost"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const postsCollection = "posts"

// Mongo is a Store backed by a MongoDB collection, one document per post.
type Mongo struct {
	client *mongo.Client
	posts  *mongo.Collection
}

// OpenMongo connects to uri, verifies the deployment and ensures indexes.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	m := &Mongo{client: client, posts: client.Database(database).Collection(postsCollection)}

	_, err = m.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("create index: %w", err)
	}
	return m, nil
}

// Create inserts a new post document with an empty status map.
func (m *Mongo) Create(ctx context.Context, post xpost.Post) (xpost.Post, error) {
	post = prepare(post)
	if _, err := m.posts.InsertOne(ctx, post); err != nil {
		return xpost.Post{}, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

// UpdateStatus sets postStatus.<provider> in a single atomic update.
func (m *Mongo) UpdateStatus(ctx context.Context, id, provider string, result xpost.PublishResult) (xpost.Post, error) {
	update := bson.M{"$set": bson.M{
		"postStatus." + provider: result,
		"updatedAt":              now(),
	}}

	var post xpost.Post
	err := m.posts.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return xpost.Post{}, ErrNotFound
	}
	if err != nil {
		return xpost.Post{}, fmt.Errorf("update status: %w", err)
	}
	return normalize(post), nil
}

// Get loads one post.
func (m *Mongo) Get(ctx context.Context, id string) (xpost.Post, error) {
	var post xpost.Post
	err := m.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return xpost.Post{}, ErrNotFound
	}
	if err != nil {
		return xpost.Post{}, fmt.Errorf("find post: %w", err)
	}
	return normalize(post), nil
}

// ListRecent returns up to n posts, newest first.
func (m *Mongo) ListRecent(ctx context.Context, n int) ([]xpost.Post, error) {
	cursor, err := m.posts.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(n)),
	)
	if err != nil {
		return nil, fmt.Errorf("find posts: %w", err)
	}
	defer cursor.Close(ctx)

	posts := []xpost.Post{}
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	for i := range posts {
		posts[i] = normalize(posts[i])
	}
	return posts, nil
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

func normalize(post xpost.Post) xpost.Post {
	if post.PostStatus == nil {
		post.PostStatus = map[string]xpost.PublishResult{}
	}
	if post.Platforms == nil {
		post.Platforms = []string{}
	}
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.UpdatedAt.UTC()
	return post
}
