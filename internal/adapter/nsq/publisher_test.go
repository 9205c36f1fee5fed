package nsq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/stream"
)

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

func TestBackfillPublisher(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", "embed.backfill", mock.MatchedBy(func(body []byte) bool {
		var task BackfillTask
		return json.Unmarshal(body, &task) == nil && len(task.PageIDs) == 2 && task.TraceID == "t1"
	})).Return(nil)

	p := NewBackfillPublisher(pub, "embed.backfill")
	require.NoError(t, p.PublishBackfill(context.Background(), []int64{4, 5}, "t1"))
	require.NoError(t, p.PublishBackfill(context.Background(), nil, "t2"))

	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestBackfillPublisher_Error(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("not connected"))

	err := NewBackfillPublisher(pub, "embed.backfill").PublishBackfill(context.Background(), []int64{1}, "")
	assert.ErrorContains(t, err, "publish embed.backfill: not connected")
}

func TestEmitter(t *testing.T) {
	var got []stream.Event
	pub := new(MockPublisher)
	pub.On("Publish", "pipeline.events", mock.Anything).Run(func(args mock.Arguments) {
		var e stream.Event
		require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &e))
		got = append(got, e)
	}).Return(nil).Once()
	pub.On("Publish", "pipeline.events", mock.Anything).Return(errors.New("down")).Once()

	em := NewEmitter(pub, "pipeline.events")
	em.Emit(stream.Event{Seq: 1, TraceID: "t", Type: stream.TypeStage, Stage: "normalize", Status: stream.StatusStarted})
	em.Emit(stream.Event{Seq: 2, TraceID: "t", Type: stream.TypeHeartbeat})

	pub.AssertExpectations(t)
	require.Len(t, got, 1)
	assert.Equal(t, "normalize", got[0].Stage)
}

func TestEmitter_BehindAsync(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", "pipeline.events", mock.Anything).Return(nil)

	a := stream.NewAsync(NewEmitter(pub, "pipeline.events"), 8)
	for i := range 5 {
		a.Emit(stream.Event{Seq: int64(i + 1), Type: stream.TypeStage})
	}
	a.Emit(stream.Event{Seq: 6, Type: stream.TypeResult})
	require.NoError(t, a.Close(context.Background()))

	pub.AssertNumberOfCalls(t, "Publish", 6)
}
