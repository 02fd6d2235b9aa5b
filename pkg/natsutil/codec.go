package natsutil

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec names a wire encoding for item payloads.
type Codec string

const (
	// CodecJSON encodes payloads with encoding/json.
	CodecJSON Codec = "json"
	// CodecProto encodes payloads as a protobuf Value in protojson form.
	// It normalizes arbitrary item shapes through structpb, so numeric
	// types round-trip consistently across languages.
	CodecProto Codec = "proto"
)

// EncodeProto converts an arbitrary JSON-shaped value into protojson bytes
// via structpb.
func EncodeProto(v any) ([]byte, error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: to structpb: %w", err)
	}
	data, err := protojson.Marshal(pv)
	if err != nil {
		return nil, fmt.Errorf("natsutil: protojson: %w", err)
	}
	return data, nil
}

// DecodeProto reverses EncodeProto.
func DecodeProto(data []byte) (any, error) {
	var pv structpb.Value
	if err := protojson.Unmarshal(data, &pv); err != nil {
		return nil, fmt.Errorf("natsutil: protojson: %w", err)
	}
	return pv.AsInterface(), nil
}

// Connect dials NATS with reconnect behavior suitable for long-running
// stream workers.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
}

// PublishRaw publishes pre-encoded bytes to a subject with trace context
// injected into the message headers.
func PublishRaw(ctx context.Context, nc *nats.Conn, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}
