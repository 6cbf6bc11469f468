package inbox

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWriter struct {
	calls       []int
	unprocessed int // items to hand back on the first call
	err         error
	written     []Notification
}

func (w *stubWriter) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if w.err != nil {
		return nil, w.err
	}
	reqs := in.RequestItems["inbox"]
	w.calls = append(w.calls, len(reqs))

	out := &dynamodb.BatchWriteItemOutput{}
	if w.unprocessed > 0 {
		n := w.unprocessed
		w.unprocessed = 0
		out.UnprocessedItems = map[string][]types.WriteRequest{"inbox": reqs[:n]}
		reqs = reqs[n:]
	}
	for _, r := range reqs {
		var n Notification
		if err := attributevalue.UnmarshalMap(r.PutRequest.Item, &n); err != nil {
			return nil, err
		}
		w.written = append(w.written, n)
	}
	return out, nil
}

func newTestStore(w BatchWriter) *Store {
	s := NewStore(w, "inbox")
	seq := 0
	s.newID = func() string { seq++; return "n" + strconv.Itoa(seq) }
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return s
}

func TestPut_ChunksBatches(t *testing.T) {
	w := &stubWriter{}
	s := newTestStore(w)

	users := make([]uint, 60)
	for i := range users {
		users[i] = uint(i + 1)
	}
	notes := s.NewPost(users, 3, 7, 9, "Drop #7", "https://shop.example/posts/7")
	require.NoError(t, s.Put(context.Background(), notes))

	assert.Equal(t, []int{25, 25, 10}, w.calls)
	require.Len(t, w.written, 60)
	first := w.written[0]
	assert.Equal(t, "n1", first.ID)
	assert.Equal(t, uint(1), first.UserID)
	assert.Equal(t, uint(7), first.PostID)
	assert.Equal(t, KindNewPost, first.Kind)
	assert.Equal(t, int64(1_700_000_000_000), first.CreatedAt)
	assert.False(t, first.Read)
}

func TestPut_ResubmitsUnprocessed(t *testing.T) {
	w := &stubWriter{unprocessed: 2}
	s := newTestStore(w)

	notes := s.NewPost([]uint{1, 2, 3}, 1, 1, 1, "t", "")
	require.NoError(t, s.Put(context.Background(), notes))
	assert.Equal(t, []int{3, 2}, w.calls)
	assert.Len(t, w.written, 3)
}

func TestPut_Error(t *testing.T) {
	s := newTestStore(&stubWriter{err: errors.New("throttled")})
	err := s.Put(context.Background(), s.NewPost([]uint{1}, 1, 1, 1, "t", ""))
	assert.ErrorContains(t, err, "throttled")
}
