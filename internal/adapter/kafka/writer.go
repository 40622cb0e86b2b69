package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/ghcn-station-etl/internal/config"
	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

// publishChunk bounds the number of messages per WriteMessages call.
const publishChunk = 500

// Writer produces station records to a Kafka topic.
// It implements pipeline.StationPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured stations topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaStationsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishStations serializes every station and publishes it keyed by station
// id, so a compacted topic keeps the latest record per station.
func (w *Writer) PublishStations(ctx context.Context, stations []domain.Station) error {
	if len(stations) == 0 {
		return nil
	}
	publishedAt := domain.Now()

	msgs := make([]kafkago.Message, 0, publishChunk)
	for i := range stations {
		msg, err := serializeToMessage(stations[i], publishedAt)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		if len(msgs) == publishChunk {
			if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
				return fmt.Errorf("publish stations: %w", err)
			}
			msgs = msgs[:0]
		}
	}
	if len(msgs) > 0 {
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish stations: %w", err)
		}
	}
	w.logger.Info("stations published", "topic", w.writer.Topic, "stations", len(stations))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Station into a Kafka message.
func serializeToMessage(station domain.Station, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(station)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize station: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(station.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "coverage", Value: []byte(fmt.Sprintf("%d-%d", station.FirstYear, station.LastYear))},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
