package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/convoflow/internal/domain"
)

// S3API is the subset of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive writes finished campaigns to S3 as JSON Lines: one summary line
// followed by one line per message.
type Archive struct {
	client S3API
	bucket string
}

// NewArchive creates an archive writing to bucket.
func NewArchive(client S3API, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

type transcriptSummary struct {
	Type           string                 `json:"type"`
	ExecutionID    string                 `json:"execution_id"`
	Goal           string                 `json:"goal"`
	Category       domain.Category        `json:"category"`
	Mode           domain.Mode            `json:"mode"`
	FinalStage     domain.FunnelStage     `json:"final_stage"`
	Stats          domain.Stats           `json:"stats"`
	CompletedUsers []domain.CompletedUser `json:"completed_users"`
	KeyMoments     []domain.KeyMoment     `json:"key_moments,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

type transcriptLine struct {
	Type string `json:"type"`
	domain.MessageRecord
}

// Key returns the object key for e.
func (a *Archive) Key(e *domain.Execution) string {
	at := e.UpdatedAt
	if e.CompletedAt != nil {
		at = *e.CompletedAt
	}
	return fmt.Sprintf("transcripts/%s/%s.jsonl", at.UTC().Format("2006/01/02"), e.ID)
}

// ArchiveExecution uploads the transcript of e.
func (a *Archive) ArchiveExecution(ctx context.Context, e *domain.Execution) error {
	body, err := encodeTranscript(e)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(e)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("putting transcript to S3: %w", err)
	}
	return nil
}

func encodeTranscript(e *domain.Execution) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	summary := transcriptSummary{
		Type:           "summary",
		ExecutionID:    e.ID,
		Goal:           e.Goal,
		Category:       e.Intent.Category,
		Mode:           e.Mode,
		FinalStage:     e.Funnel.CurrentStage,
		Stats:          e.Stats,
		CompletedUsers: e.Queue.CompletedUsers,
		KeyMoments:     e.Funnel.KeyMoments,
		CreatedAt:      e.CreatedAt,
		CompletedAt:    e.CompletedAt,
	}
	if err := enc.Encode(summary); err != nil {
		return nil, fmt.Errorf("encoding transcript summary: %w", err)
	}
	for _, m := range e.MessageHistory {
		if err := enc.Encode(transcriptLine{Type: "message", MessageRecord: m}); err != nil {
			return nil, fmt.Errorf("encoding transcript line: %w", err)
		}
	}
	return buf.Bytes(), nil
}
