package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDequeue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewQueue(db, nil)

	payload, _ := json.Marshal(TicketRenderPayload{SignupID: 4, EventID: 2, Token: "r-4-2-a-b"})
	raw, _ := json.Marshal(Job{ID: "job-1", Type: JobTypeTicketRender, Payload: payload})
	mock.ExpectBLPop(time.Second, QueueTickets).SetVal([]string{QueueTickets, string(raw)})

	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)

	var got TicketRenderPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, int64(4), got.SignupID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeue_TimeoutAndGarbage(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewQueue(db, nil)

	mock.ExpectBLPop(time.Second, QueueTickets).SetErr(redis.Nil)
	job, err := q.Dequeue(context.Background(), time.Second)
	assert.NoError(t, err)
	assert.Nil(t, job)

	mock.ExpectBLPop(time.Second, QueueTickets).SetVal([]string{QueueTickets, "{not json"})
	job, err = q.Dequeue(context.Background(), time.Second)
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewQueue(db, nil)
	mock.MatchExpectationsInOrder(true)

	job := &Job{ID: "job-2", Type: JobTypeTicketRender, Attempt: 0}
	first := *job
	first.Attempt = 1
	rawFirst, _ := json.Marshal(first)
	mock.ExpectRPush(QueueTickets, rawFirst).SetVal(1)

	dead, err := q.Retry(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, dead)

	job.Attempt = MaxRetries - 1
	last := *job
	last.Attempt = MaxRetries
	rawLast, _ := json.Marshal(last)
	mock.ExpectRPush(QueueDLQ, rawLast).SetVal(1)

	dead, err = q.Retry(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, dead)
	assert.NoError(t, mock.ExpectationsWereMet())
}
