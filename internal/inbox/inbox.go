// Package inbox writes per-subscriber release notifications to DynamoDB.
package inbox

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// MaxBatch is the DynamoDB BatchWriteItem request limit.
const MaxBatch = 25

const maxUnprocessedRounds = 3

// KindNewPost marks a notification about a new release.
const KindNewPost = "new_post"

// BatchWriter is the DynamoDB call the store makes.
type BatchWriter interface {
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Notification is one inbox entry.
type Notification struct {
	ID        string `dynamodbav:"id"`
	UserID    uint   `dynamodbav:"user_id"`
	AppID     uint   `dynamodbav:"app_id"`
	PostID    uint   `dynamodbav:"post_id"`
	CreatorID uint   `dynamodbav:"creator_id"`
	Kind      string `dynamodbav:"kind"`
	Title     string `dynamodbav:"title"`
	Link      string `dynamodbav:"link,omitempty"`
	Read      bool   `dynamodbav:"read"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

// Store writes notifications to one table.
type Store struct {
	client BatchWriter
	table  string
	now    func() time.Time
	newID  func() string
}

// NewStore builds a Store on client.
func NewStore(client BatchWriter, table string) *Store {
	return &Store{
		client: client,
		table:  table,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Connect builds a Store from the default AWS credential chain.
func Connect(ctx context.Context, region, table string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewStore(dynamodb.NewFromConfig(cfg), table), nil
}

// NewPost builds one unsent notification per user.
func (s *Store) NewPost(userIDs []uint, appID, postID, creatorID uint, title, link string) []Notification {
	created := s.now().UnixMilli()
	out := make([]Notification, 0, len(userIDs))
	for _, uid := range userIDs {
		out = append(out, Notification{
			ID:        s.newID(),
			UserID:    uid,
			AppID:     appID,
			PostID:    postID,
			CreatorID: creatorID,
			Kind:      KindNewPost,
			Title:     title,
			Link:      link,
			CreatedAt: created,
		})
	}
	return out
}

// Put writes notifications in batches of MaxBatch, resubmitting unprocessed
// items a few times before giving up.
func (s *Store) Put(ctx context.Context, notes []Notification) error {
	for start := 0; start < len(notes); start += MaxBatch {
		end := min(start+MaxBatch, len(notes))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, n := range notes[start:end] {
			item, err := attributevalue.MarshalMap(n)
			if err != nil {
				return fmt.Errorf("marshal notification %s: %w", n.ID, err)
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		if err := s.write(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) write(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: requests}
	for round := 0; round < maxUnprocessedRounds; round++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch write %s: %w", s.table, err)
		}
		if len(out.UnprocessedItems[s.table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("batch write %s: %d items left unprocessed", s.table, len(pending[s.table]))
}
