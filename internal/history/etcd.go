package history

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/Jonatan852/querygrid/pkg/qglog"
)

// Prefixo das chaves de histórico no etcd.
const queryKeyPrefix = "/querygrid/queries/"

// EtcdStore persiste o histórico em etcd, um registro JSON por query.
// Coordinators que reiniciam recuperam a trilha completa.
type EtcdStore struct {
	client *clientv3.Client
}

func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdStore{client: cli}, nil
}

func (e *EtcdStore) Close() error {
	return e.client.Close()
}

func (e *EtcdStore) RecordSubmission(ctx context.Context, queryID, sql string, at time.Time) error {
	return e.put(ctx, Record{
		QueryID:     queryID,
		SQL:         sql,
		SubmittedAt: at,
		UpdatedAt:   at,
	})
}

func (e *EtcdStore) RecordTransition(ctx context.Context, queryID, state string, at time.Time) error {
	rec, err := e.Get(ctx, queryID)
	if err != nil {
		return err
	}
	rec.State = state
	rec.UpdatedAt = at
	rec.Transitions = append(rec.Transitions, Transition{State: state, At: at})
	return e.put(ctx, rec)
}

func (e *EtcdStore) RecordOutcome(ctx context.Context, queryID string, rowCount int, errMsg string) error {
	rec, err := e.Get(ctx, queryID)
	if err != nil {
		return err
	}
	rec.RowCount = rowCount
	rec.Error = errMsg
	return e.put(ctx, rec)
}

func (e *EtcdStore) Get(ctx context.Context, queryID string) (Record, error) {
	resp, err := e.client.Get(ctx, queryKeyPrefix+queryID)
	if err != nil {
		return Record{}, err
	}
	if len(resp.Kvs) == 0 {
		return Record{}, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(resp.Kvs[0].Value, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (e *EtcdStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	resp, err := e.client.Get(ctx, queryKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			qglog.Zero.Warn().Str("key", string(kv.Key)).Err(err).Msg("registro de histórico corrompido")
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SubmittedAt.After(records[j].SubmittedAt)
	})
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

func (e *EtcdStore) put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, queryKeyPrefix+rec.QueryID, string(data))
	return err
}
