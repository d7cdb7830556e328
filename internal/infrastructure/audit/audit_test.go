package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// mockKafkaWriter is a mock of the Kafka writer
type mockKafkaWriter struct {
	mock.Mock
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testEvent() models.KeyEvent {
	return models.KeyEvent{
		ID:        "evt-1",
		Type:      constants.KeyEventGenerated,
		KeyAlias:  "my-key",
		KeyID:     "kid-1",
		SscdID:    "sw-1",
		SscdType:  "SOFTWARE",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	writer := new(mockKafkaWriter)
	publisher := newKafkaPublisher(writer, logger.NewNoopLogger())
	event := testEvent()
	eventBytes, err := json.Marshal(event)
	require.NoError(t, err)

	writer.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 &&
			string(msgs[0].Key) == "my-key" &&
			string(msgs[0].Value) == string(eventBytes) &&
			len(msgs[0].Headers) == 1 &&
			string(msgs[0].Headers[0].Value) == string(constants.KeyEventGenerated)
	})).Return(nil).Once()
	writer.On("Close").Return(nil).Once()

	assert.NoError(t, publisher.Publish(context.Background(), event))
	assert.NoError(t, publisher.Close())
	writer.AssertExpectations(t)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	writer := new(mockKafkaWriter)
	publisher := newKafkaPublisher(writer, logger.NewNoopLogger())
	writer.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := publisher.Publish(context.Background(), testEvent())
	assert.EqualError(t, err, "broker down")
}

func TestNewPublisher(t *testing.T) {
	log := logger.NewNoopLogger()

	p := NewPublisher(config.EventsConfig{}, log)
	assert.IsType(t, &LogPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), testEvent()))
	assert.NoError(t, p.Close())

	p = NewPublisher(config.EventsConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "musap.keys"}, log)
	assert.IsType(t, &KafkaPublisher{}, p)
	assert.NoError(t, p.Close())
}
