package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// Topic is the channel all progress messages are published on.
const Topic = "stepflow.messages"

// defaultBuffer sizes the per-subscriber output channel. Emission never
// drops messages for a connected subscriber; a slow subscriber is
// absorbed by this buffer.
const defaultBuffer = 1024

// Emitter publishes progress messages onto a shared, ordered,
// multi-subscriber channel. The global index for non-partial messages is
// drawn from the injected Sequence, shared across all concurrent runs.
type Emitter struct {
	pubsub *gochannel.GoChannel
	seq    *Sequence
}

// NewEmitter creates an emitter backed by an in-process pub/sub channel.
func NewEmitter(seq *Sequence) *Emitter {
	// Publishing blocks until every subscriber has acked, which keeps
	// delivery in emission order and means Close never discards a
	// message already handed to Publish. Subscribers ack as soon as the
	// message is decoded, so emission does not stall on slow consumers.
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            defaultBuffer,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NopLogger{},
	)
	return &Emitter{
		pubsub: pubsub,
		seq:    seq,
	}
}

// EmitPartial publishes a provisional streaming report for a step that
// is still executing. Partial messages carry no global index.
func (e *Emitter) EmitPartial(command, input, resultSoFar, stderrSoFar, hostname string) {
	result := resultSoFar
	e.publish(Message{
		Command:  command,
		Input:    input,
		Result:   &result,
		Stderr:   stderrSoFar,
		ExitCode: UnfinishedExitCode,
		Hostname: hostname,
		Partial:  true,
	})
}

// EmitStandard publishes the final report for a completed step.
func (e *Emitter) EmitStandard(command, stderr, result string, exitCode int, hostname string) {
	e.publish(Message{
		Command:  command,
		Result:   &result,
		Stderr:   stderr,
		ExitCode: exitCode,
		Hostname: hostname,
		Index:    e.seq.Next(),
	})
}

// EmitError publishes the final report for a failed step. The exit code
// is forced to the unfinished sentinel; when the error carries structured
// validation detail, the detail is preserved verbatim on the message.
func (e *Emitter) EmitError(command string, err error, hostname string) {
	msg := Message{
		Command:  command,
		Stderr:   err.Error(),
		ExitCode: UnfinishedExitCode,
		Hostname: hostname,
		Index:    e.seq.Next(),
	}

	var validated Validated
	if errors.As(err, &validated) {
		msg.Validation = validated.ValidationDetail()
	}

	e.publish(msg)
}

func (e *Emitter) publish(m Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("command", m.Command).Msg("failed to encode message")
		return
	}

	wm := message.NewMessage(watermill.NewUUID(), payload)
	if err := e.pubsub.Publish(Topic, wm); err != nil {
		log.Error().Err(err).Str("command", m.Command).Msg("failed to publish message")
	}
}

// Subscribe returns a channel of decoded messages in emission order. The
// channel closes when ctx is cancelled or the emitter is closed.
func (e *Emitter) Subscribe(ctx context.Context) (<-chan Message, error) {
	raw, err := e.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Message, defaultBuffer)
	go func() {
		defer close(out)
		for wm := range raw {
			var m Message
			if err := json.Unmarshal(wm.Payload, &m); err != nil {
				log.Error().Err(err).Msg("failed to decode message")
				wm.Ack()
				continue
			}
			wm.Ack()

			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close shuts the underlying channel down. Subscribers' channels close
// after pending messages are delivered.
func (e *Emitter) Close() error {
	return e.pubsub.Close()
}
