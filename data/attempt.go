package data

import (
	"context"
	"fmt"
	"time"

	"github.com/0xsequence/identity-flow/auth"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Attempt is one stage submission and the decision applied for it.
type Attempt struct {
	FlowID    string      `dynamodbav:"FlowID"`
	AttemptID string      `dynamodbav:"AttemptID"`
	SessionID string      `dynamodbav:"SessionID,omitempty"`
	Stage     proto.Stage `dynamodbav:"Stage"`
	Outcome   string      `dynamodbav:"Outcome"`
	Message   string      `dynamodbav:"Message,omitempty"`
	Next      proto.Stage `dynamodbav:"Next,omitempty"`
	CreatedAt time.Time   `dynamodbav:"CreatedAt"`
	// ExpiresAt is the DynamoDB TTL attribute, in unix seconds.
	ExpiresAt int64 `dynamodbav:"ExpiresAt,omitempty"`
}

func (a *Attempt) Key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"FlowID":    &types.AttributeValueMemberS{Value: a.FlowID},
		"AttemptID": &types.AttributeValueMemberS{Value: a.AttemptID},
	}
}

// NewAttemptID returns a sort key that orders attempts of a flow chronologically.
func NewAttemptID(createdAt time.Time) string {
	return createdAt.UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8]
}

type AttemptIndices struct {
	BySession string
}

type AttemptTable struct {
	db        DB
	tableARN  string
	indices   AttemptIndices
	retention time.Duration
}

var _ auth.AttemptRecorder = (*AttemptTable)(nil)

// NewAttemptTable returns the attempt ledger. A positive retention sets ExpiresAt on
// every stored attempt.
func NewAttemptTable(db DB, tableARN string, indices AttemptIndices, retention time.Duration) *AttemptTable {
	return &AttemptTable{
		db:        db,
		tableARN:  tableARN,
		indices:   indices,
		retention: retention,
	}
}

func (t *AttemptTable) Put(ctx context.Context, attempt *Attempt) error {
	if attempt.FlowID == "" {
		return fmt.Errorf("flow id is required")
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	if attempt.AttemptID == "" {
		attempt.AttemptID = NewAttemptID(attempt.CreatedAt)
	}
	if t.retention > 0 && attempt.ExpiresAt == 0 {
		attempt.ExpiresAt = attempt.CreatedAt.Add(t.retention).Unix()
	}

	av, err := attributevalue.MarshalMap(attempt)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	input := &dynamodb.PutItemInput{
		TableName: &t.tableARN,
		Item:      av,
	}
	if _, err := t.db.PutItem(ctx, input); err != nil {
		return fmt.Errorf("PutItem: %w", err)
	}
	return nil
}

// RecordAttempt implements auth.AttemptRecorder.
func (t *AttemptTable) RecordAttempt(ctx context.Context, attempt *auth.Attempt) error {
	return t.Put(ctx, &Attempt{
		FlowID:    attempt.FlowID,
		SessionID: attempt.SessionID,
		Stage:     attempt.Stage,
		Outcome:   attempt.Outcome,
		Message:   attempt.Message,
		Next:      attempt.Next,
		CreatedAt: attempt.CreatedAt,
	})
}

// ListByFlow returns the attempts of a flow, oldest first.
func (t *AttemptTable) ListByFlow(ctx context.Context, flowID string) ([]*Attempt, error) {
	return t.query(ctx, &dynamodb.QueryInput{
		TableName:              &t.tableARN,
		KeyConditionExpression: aws.String("FlowID = :flowID"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":flowID": &types.AttributeValueMemberS{Value: flowID},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

// ListBySession returns the attempts made under a server login session.
func (t *AttemptTable) ListBySession(ctx context.Context, sessionID string) ([]*Attempt, error) {
	if t.indices.BySession == "" {
		return nil, fmt.Errorf("session index is not configured")
	}
	return t.query(ctx, &dynamodb.QueryInput{
		TableName:              &t.tableARN,
		IndexName:              &t.indices.BySession,
		KeyConditionExpression: aws.String("SessionID = :sessionID"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sessionID": &types.AttributeValueMemberS{Value: sessionID},
		},
	})
}

func (t *AttemptTable) query(ctx context.Context, input *dynamodb.QueryInput) ([]*Attempt, error) {
	var attempts []*Attempt
	for {
		out, err := t.db.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}

		var page []*Attempt
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		attempts = append(attempts, page...)

		if len(out.LastEvaluatedKey) == 0 {
			return attempts, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
