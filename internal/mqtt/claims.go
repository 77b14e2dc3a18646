package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"

	"github.com/AaronLay10/EnharmonicGap/internal/events"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
)

// CodeInvalidPayload is reported when a claim message cannot be decoded.
const CodeInvalidPayload = "invalid_payload"

const bridgeTimeout = 10 * time.Second

// Transport is the part of Client the claim intake needs.
type Transport interface {
	Subscribe(topic string, handler paho.MessageHandler) error
	Publish(topic string, payload []byte) error
}

// Bridger executes claims. *puzzle.Engine satisfies it.
type Bridger interface {
	Bridge(ctx context.Context, seedID uint64, tokenAccount string, claim puzzle.Claim) (puzzle.Receipt, error)
}

// ClaimMessage is the JSON body published to <prefix>/seeds/<id>/claims.
type ClaimMessage struct {
	Context      string `json:"context" validate:"max=4096"`
	IntervalName string `json:"interval_name" validate:"max=256"`
	Resolution   string `json:"resolution" validate:"max=4096"`
	Salt         uint64 `json:"salt"`
	TokenAccount string `json:"token_account" validate:"required,max=128"`
}

// Outcome is published to <prefix>/seeds/<id>/outcomes after each claim.
type Outcome struct {
	OK        bool            `json:"ok"`
	Receipt   *puzzle.Receipt `json:"receipt,omitempty"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// ClaimTopic returns the wildcard subscription for claims under prefix.
func ClaimTopic(prefix string) string {
	return prefix + "/seeds/+/claims"
}

// OutcomeTopic returns the topic outcomes for seedID are published on.
func OutcomeTopic(prefix string, seedID uint64) string {
	return prefix + "/seeds/" + strconv.FormatUint(seedID, 10) + "/outcomes"
}

// ClaimSubscriber feeds claims received over MQTT into the bridge and
// publishes each outcome.
type ClaimSubscriber struct {
	transport Transport
	bridger   Bridger
	prefix    string
	validate  *validator.Validate
	ctx       context.Context
}

// NewClaimSubscriber creates a subscriber for topics under prefix. Bridges
// run with contexts derived from ctx.
func NewClaimSubscriber(ctx context.Context, t Transport, b Bridger, prefix string) *ClaimSubscriber {
	return &ClaimSubscriber{
		transport: t,
		bridger:   b,
		prefix:    strings.TrimSuffix(prefix, "/"),
		validate:  validator.New(),
		ctx:       ctx,
	}
}

// Start subscribes to the claim topic.
func (s *ClaimSubscriber) Start() error {
	return s.transport.Subscribe(ClaimTopic(s.prefix), s.handle)
}

// Handler returns the message handler for use with Client.StartWithRetry.
func (s *ClaimSubscriber) Handler() paho.MessageHandler {
	return s.handle
}

func (s *ClaimSubscriber) handle(_ paho.Client, msg paho.Message) {
	seedID, err := s.seedFromTopic(msg.Topic())
	if err != nil {
		events.Emit("warning", "claim.invalid", err.Error(), map[string]interface{}{
			"topic": msg.Topic(),
		})
		return
	}

	var m ClaimMessage
	err = json.Unmarshal(msg.Payload(), &m)
	if err == nil {
		err = s.validate.Struct(m)
	}
	if err != nil {
		events.Emit("warning", "claim.invalid", "invalid claim payload", map[string]interface{}{
			"seed_id": seedID,
			"topic":   msg.Topic(),
			"error":   err.Error(),
		})
		s.publish(seedID, Outcome{Code: CodeInvalidPayload, Error: err.Error()})
		return
	}

	events.Emit("info", "claim.received", "", map[string]interface{}{
		"seed_id":       seedID,
		"token_account": m.TokenAccount,
		"transport":     "mqtt",
	})

	ctx, cancel := context.WithTimeout(s.ctx, bridgeTimeout)
	defer cancel()

	r, err := s.bridger.Bridge(ctx, seedID, m.TokenAccount, puzzle.Claim{
		Context:      m.Context,
		IntervalName: m.IntervalName,
		Resolution:   m.Resolution,
		Salt:         m.Salt,
	})
	if err != nil {
		s.publish(seedID, Outcome{
			Code:      puzzle.Code(err),
			Error:     err.Error(),
			Retryable: puzzle.IsRetryableByCaller(err),
		})
		return
	}
	s.publish(seedID, Outcome{OK: true, Receipt: &r})
}

func (s *ClaimSubscriber) publish(seedID uint64, o Outcome) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	topic := OutcomeTopic(s.prefix, seedID)
	if err := s.transport.Publish(topic, b); err != nil {
		events.Emit("error", "system.error", "failed to publish outcome", map[string]interface{}{
			"topic": topic,
			"error": err.Error(),
		})
	}
}

// seedFromTopic extracts the seed id from <prefix>/seeds/<id>/claims.
func (s *ClaimSubscriber) seedFromTopic(topic string) (uint64, error) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/seeds/")
	if !ok {
		return 0, fmt.Errorf("unexpected claim topic %q", topic)
	}
	id, ok := strings.CutSuffix(rest, "/claims")
	if !ok || id == "" || strings.Contains(id, "/") {
		return 0, fmt.Errorf("unexpected claim topic %q", topic)
	}
	seedID, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, errors.New("seed id in topic is not an unsigned integer")
	}
	return seedID, nil
}
