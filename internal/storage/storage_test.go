package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/domain"
)

func testSnapshot(t *testing.T, id string, status domain.ExecutionStatus, updated time.Time) domain.Snapshot {
	t.Helper()
	snap, err := domain.NewSnapshot(&domain.Execution{
		ID:        id,
		Status:    status,
		Goal:      "提升新品銷售",
		Mode:      domain.ModeScriptless,
		Intent:    domain.GoalIntent{Category: domain.CategoryProductLaunch},
		UpdatedAt: updated,
	})
	require.NoError(t, err)
	return snap
}

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, testSnapshot(t, "b", domain.StatusRunning, base.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, testSnapshot(t, "a", domain.StatusPaused, base)))
	require.NoError(t, s.Save(ctx, testSnapshot(t, "c", domain.StatusCompleted, base)))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	e, err := active[1].Execution()
	require.NoError(t, err)
	assert.Equal(t, "提升新品銷售", e.Goal)
	assert.Equal(t, domain.CategoryProductLaunch, active[1].Category)

	// Overwrite: b completes and drops out of the active set.
	require.NoError(t, s.Save(ctx, testSnapshot(t, "b", domain.StatusCompleted, base.Add(2*time.Minute))))
	require.NoError(t, s.Delete(ctx, "a"))
	active, err = s.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)

	snap, ok := s.Get("c")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
}

func TestMemoryStore_CopiesPayload(t *testing.T) {
	s := NewMemoryStore()
	snap := testSnapshot(t, "x", domain.StatusRunning, time.Now())
	require.NoError(t, s.Save(context.Background(), snap))
	snap.Payload[0] = '!'

	stored, _ := s.Get("x")
	assert.Equal(t, byte('{'), stored.Payload[0])
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "executions.db")
	s, err := OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executions.db")
	s, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), testSnapshot(t, "keep", domain.StatusRunning, time.Now())))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()
	active, err := s.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "keep", active[0].ID)
}

// fakeDynamo keeps items in memory and evaluates the one filter the store
// uses. Scan pages one item at a time to exercise pagination.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	order []string
	scans int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := in.Item["id"].(*types.AttributeValueMemberS).Value
	if _, ok := f.items[id]; !ok {
		f.order = append(f.order, id)
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	start := 0
	if in.ExclusiveStartKey != nil {
		last := in.ExclusiveStartKey["id"].(*types.AttributeValueMemberS).Value
		for i, id := range f.order {
			if id == last {
				start = i + 1
			}
		}
	}
	excluded := in.ExpressionAttributeValues[":completed"].(*types.AttributeValueMemberS).Value
	out := &dynamodb.ScanOutput{}
	for i := start; i < len(f.order); i++ {
		item, ok := f.items[f.order[i]]
		if !ok {
			continue
		}
		if item["status"].(*types.AttributeValueMemberS).Value != excluded {
			out.Items = append(out.Items, item)
		}
		if i+1 < len(f.order) {
			out.LastEvaluatedKey = map[string]types.AttributeValue{"id": item["id"]}
		}
		break
	}
	return out, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, in.Key["id"].(*types.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStore(t *testing.T) {
	fake := newFakeDynamo()
	exerciseStore(t, NewDynamoStore(fake, "executions"))
	assert.Greater(t, fake.scans, 2)
}

func TestDynamoStore_ItemShape(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "executions")
	snap := testSnapshot(t, "shape", domain.StatusRunning, time.Now())
	require.NoError(t, s.Save(context.Background(), snap))

	item := fake.items["shape"]
	assert.IsType(t, &types.AttributeValueMemberB{}, item["payload"])
	var back domain.Snapshot
	require.NoError(t, attributevalue.UnmarshalMap(item, &back))
	assert.Equal(t, snap.Payload, back.Payload)
	assert.Equal(t, domain.ModeScriptless, back.Mode)
}

type fakeS3 struct {
	puts []*s3.PutObjectInput
	body []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = data
	return &s3.PutObjectOutput{}, nil
}

func TestArchive_WritesJSONLines(t *testing.T) {
	fake := &fakeS3{}
	a := NewArchive(fake, "transcripts-bucket")
	done := time.Date(2026, 5, 2, 18, 30, 0, 0, time.UTC)
	e := &domain.Execution{
		ID:     "exec-1",
		Goal:   "提升銷售",
		Mode:   domain.ModeHybrid,
		Intent: domain.GoalIntent{Category: domain.CategorySalesConversion},
		Funnel: domain.ConversionFunnel{CurrentStage: domain.StageIntent},
		Queue: domain.Queue{CompletedUsers: []domain.CompletedUser{
			{ID: "u1", Result: domain.ResultConverted},
		}},
		MessageHistory: []domain.MessageRecord{
			{ID: "m1", From: domain.SenderRole, RoleID: "atmosphere-1", UserID: "u1", Content: "嗨"},
			{ID: "m2", From: domain.SenderUser, UserID: "u1", Content: "已付款", Signal: "converted"},
		},
		CompletedAt: &done,
	}

	require.NoError(t, a.ArchiveExecution(context.Background(), e))
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "transcripts-bucket", aws.ToString(fake.puts[0].Bucket))
	assert.Equal(t, "transcripts/2026/05/02/exec-1.jsonl", aws.ToString(fake.puts[0].Key))
	assert.Equal(t, "application/x-ndjson", aws.ToString(fake.puts[0].ContentType))

	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(fake.body))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "summary", lines[0]["type"])
	assert.Equal(t, "intent", lines[0]["final_stage"])
	assert.Equal(t, "message", lines[1]["type"])
	assert.Equal(t, "嗨", lines[1]["content"])
	assert.Equal(t, "converted", lines[2]["signal"])
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StorageConfig{Type: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, config.StorageConfig{Type: "postgres"}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, config.StorageConfig{Type: "cassandra"}, nil)
	assert.Error(t, err)

	s, err = Open(ctx, config.StorageConfig{Type: "bolt", BoltPath: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	require.IsType(t, &BoltStore{}, s)
	s.(*BoltStore).Close()
}
