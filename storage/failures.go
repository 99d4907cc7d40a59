package storage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/eladsnd/sunday/domain"
)

type failureTable interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type failureQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// FailureLedger records automation failures in an Azure table partitioned
// by board and forwards each one to an alert queue.
type FailureLedger struct {
	table failureTable
	queue failureQueue
}

// NewFailureLedger creates a ledger from the given connection string. An
// empty queue name disables alert forwarding.
func NewFailureLedger(connStr, tableName, queueName string) (*FailureLedger, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	l := &FailureLedger{table: svc.NewClient(tableName)}
	if queueName == "" {
		return l, nil
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	l.queue = q
	return l, nil
}

type failureEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	RuleID       string `json:"RuleID"`
	ItemID       string `json:"ItemID"`
	ActionType   string `json:"ActionType"`
	Error        string `json:"Error"`
	OccurredAt   int64  `json:"OccurredAt"`
}

// failureRowKey sorts newest first within a board partition.
func failureRowKey(f domain.AutomationFailure) string {
	ref := f.RuleID
	if ref == "" {
		ref = "rules"
	}
	return fmt.Sprintf("%019d_%s_%s", math.MaxInt64-f.OccurredAt.UnixNano(), ref, f.ItemID)
}

// Record stores the failure and enqueues its JSON envelope.
func (l *FailureLedger) Record(ctx context.Context, f domain.AutomationFailure) error {
	if f.OccurredAt.IsZero() {
		f.OccurredAt = time.Now().UTC()
	}
	ent := failureEntity{
		PartitionKey: f.BoardID,
		RowKey:       failureRowKey(f),
		RuleID:       f.RuleID,
		ItemID:       f.ItemID,
		ActionType:   string(f.ActionType),
		Error:        f.Error,
		OccurredAt:   f.OccurredAt.UnixMilli(),
	}
	data, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := l.table.AddEntity(ctx, data, nil); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if l.queue == nil {
		return nil
	}
	env, err := sonic.MarshalString(f)
	if err != nil {
		return err
	}
	if _, err := l.queue.EnqueueMessage(ctx, env, nil); err != nil {
		return fmt.Errorf("enqueue failure alert: %w", err)
	}
	return nil
}

// List returns up to limit failures of a board, newest first.
func (l *FailureLedger) List(ctx context.Context, boardID string, limit int) ([]domain.AutomationFailure, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := "PartitionKey eq '" + strings.ReplaceAll(boardID, "'", "''") + "'"
	top := int32(limit)
	pager := l.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	out := []domain.AutomationFailure{}
	for pager.More() && len(out) < limit {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent failureEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			out = append(out, domain.AutomationFailure{
				BoardID:    ent.PartitionKey,
				RuleID:     ent.RuleID,
				ItemID:     ent.ItemID,
				ActionType: domain.ActionType(ent.ActionType),
				Error:      ent.Error,
				OccurredAt: fromMillis(ent.OccurredAt),
			})
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
