package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultRequestTopic = "persistence.users"
	DefaultReplyTopic   = "persistence.users.events"
	DefaultTimeout      = 5 * time.Second

	correlationHeader = "correlation-id"
	replyToHeader     = "reply-to"
)

var (
	// ErrTimeout is returned when no reply arrives within the configured
	// timeout.
	ErrTimeout = errors.New("directory: request timed out")

	// ErrClosed is returned for calls made after Close.
	ErrClosed = errors.New("directory: closed")

	// ErrRemote is returned when the persistence service reports a failure
	// other than not-found or already-exists.
	ErrRemote = errors.New("directory: remote error")
)

// Actions understood by the persistence service.
const (
	actionFind           = "FIND"
	actionCreate         = "CREATE"
	actionUpdatePassword = "UPDATE_PASSWORD"
	actionUpdateTOTP     = "UPDATE_TOTP"
)

// Reply statuses.
const (
	statusFound    = "FOUND"
	statusCreated  = "CREATED"
	statusUpdated  = "UPDATED"
	statusNotFound = "NOT_FOUND"
	statusError    = "ERROR"
)

type request struct {
	CorrelationID string   `json:"correlationId"`
	Action        string   `json:"action"`
	Username      string   `json:"username"`
	PasswordHash  string   `json:"passwordHash,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	TOTPSecret    *string  `json:"totpSecret,omitempty"`
}

type reply struct {
	CorrelationID string    `json:"correlationId"`
	Username      string    `json:"username"`
	Status        string    `json:"status"`
	PasswordHash  string    `json:"passwordHash,omitempty"`
	Scopes        []string  `json:"scopes,omitempty"`
	TOTPSecret    string    `json:"totpSecret,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitzero"`
	UpdatedAt     time.Time `json:"updatedAt,omitzero"`
	Error         string    `json:"error,omitempty"`
}

// KafkaConfig configures a KafkaDirectory.
type KafkaConfig struct {
	Brokers      []string
	RequestTopic string
	ReplyTopic   string
	Timeout      time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaDirectory asks a remote persistence service for principals. Requests
// go to the request topic keyed by username; replies on the reply topic are
// matched to waiting callers by correlation id.
type KafkaDirectory struct {
	w          messageWriter
	readers    []messageReader
	replyTopic string
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]chan reply
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaDirectory connects the writer and starts consuming replies. Every
// partition of the reply topic gets its own reader pinned to the partition's
// end offset as of this call, so a reply to any request sent afterwards is
// never skipped. The reply topic must exist; partitions added later are not
// consumed until restart.
func NewKafkaDirectory(ctx context.Context, cfg KafkaConfig, logger *slog.Logger) (*KafkaDirectory, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("directory: at least one kafka broker is required")
	}
	if cfg.RequestTopic == "" {
		cfg.RequestTopic = DefaultRequestTopic
	}
	if cfg.ReplyTopic == "" {
		cfg.ReplyTopic = DefaultReplyTopic
	}

	cursors, err := replyCursors(ctx, brokerMeta{brokers: cfg.Brokers}, cfg.ReplyTopic)
	if err != nil {
		return nil, err
	}

	readers := make([]messageReader, 0, len(cursors))
	for _, c := range cursors {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   cfg.Brokers,
			Topic:     cfg.ReplyTopic,
			Partition: c.Partition,
			MinBytes:  1,
			MaxBytes:  1 << 20,
			MaxWait:   100 * time.Millisecond,
		})
		if err := r.SetOffset(c.Offset); err != nil {
			_ = r.Close()
			for _, open := range readers {
				_ = open.Close()
			}
			return nil, fmt.Errorf("directory: position reply reader: %w", err)
		}
		readers = append(readers, r)
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.RequestTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaDirectory(w, readers, cfg.ReplyTopic, cfg.Timeout, logger), nil
}

// replyCursor is where one partition's reply reader starts.
type replyCursor struct {
	Partition int
	Offset    int64
}

type topicMeta interface {
	Partitions(ctx context.Context, topic string) ([]int, error)
	LastOffset(ctx context.Context, topic string, partition int) (int64, error)
}

// replyCursors resolves the current end of every partition of topic.
func replyCursors(ctx context.Context, meta topicMeta, topic string) ([]replyCursor, error) {
	partitions, err := meta.Partitions(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("directory: read partitions of %s: %w", topic, err)
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("directory: topic %s has no partitions", topic)
	}

	cursors := make([]replyCursor, 0, len(partitions))
	for _, p := range partitions {
		off, err := meta.LastOffset(ctx, topic, p)
		if err != nil {
			return nil, fmt.Errorf("directory: end offset of %s/%d: %w", topic, p, err)
		}
		cursors = append(cursors, replyCursor{Partition: p, Offset: off})
	}
	return cursors, nil
}

// brokerMeta answers topicMeta from the first reachable broker.
type brokerMeta struct {
	brokers []string
}

func (m brokerMeta) Partitions(ctx context.Context, topic string) ([]int, error) {
	var errs []error
	for _, addr := range m.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		parts, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			return nil, err
		}
		ids := make([]int, 0, len(parts))
		for _, p := range parts {
			ids = append(ids, p.ID)
		}
		return ids, nil
	}
	return nil, errors.Join(errs...)
}

func (m brokerMeta) LastOffset(ctx context.Context, topic string, partition int) (int64, error) {
	var errs []error
	for _, addr := range m.brokers {
		conn, err := kafka.DialLeader(ctx, "tcp", addr, topic, partition)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		off, err := conn.ReadLastOffset()
		_ = conn.Close()
		return off, err
	}
	return 0, errors.Join(errs...)
}

func newKafkaDirectory(w messageWriter, readers []messageReader, replyTopic string, timeout time.Duration, logger *slog.Logger) *KafkaDirectory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &KafkaDirectory{
		w:          w,
		readers:    readers,
		replyTopic: replyTopic,
		timeout:    timeout,
		logger:     logger,
		pending:    make(map[string]chan reply),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	var wg sync.WaitGroup
	for _, r := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.consume(ctx, r)
		}()
	}
	go func() {
		wg.Wait()
		close(d.done)
	}()
	return d
}

func (d *KafkaDirectory) LookupPrincipal(ctx context.Context, id string) (domain.Principal, error) {
	rep, err := d.call(ctx, request{Action: actionFind, Username: id})
	if err != nil {
		return domain.Principal{}, err
	}

	switch rep.Status {
	case statusFound:
		return domain.Principal{
			ID:           rep.Username,
			PasswordHash: rep.PasswordHash,
			Scopes:       rep.Scopes,
			TOTPSecret:   rep.TOTPSecret,
			CreatedAt:    rep.CreatedAt,
			UpdatedAt:    rep.UpdatedAt,
		}, nil
	case statusNotFound:
		return domain.Principal{}, store.ErrNotFound
	default:
		return domain.Principal{}, remoteError(rep)
	}
}

// CreatePrincipal asks the persistence service to create p. The service
// answers ERROR for an existing username, which maps to ErrAlreadyExists.
func (d *KafkaDirectory) CreatePrincipal(ctx context.Context, p domain.Principal) error {
	rep, err := d.call(ctx, request{
		Action:       actionCreate,
		Username:     p.ID,
		PasswordHash: p.PasswordHash,
		Scopes:       p.Scopes,
	})
	if err != nil {
		return err
	}

	switch rep.Status {
	case statusCreated:
		return nil
	case statusError:
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, rep.Error)
	default:
		return remoteError(rep)
	}
}

func (d *KafkaDirectory) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return d.update(ctx, request{Action: actionUpdatePassword, Username: id, PasswordHash: hash})
}

func (d *KafkaDirectory) UpdateTOTPSecret(ctx context.Context, id, secret string) error {
	return d.update(ctx, request{Action: actionUpdateTOTP, Username: id, TOTPSecret: &secret})
}

func (d *KafkaDirectory) update(ctx context.Context, req request) error {
	rep, err := d.call(ctx, req)
	if err != nil {
		return err
	}
	switch rep.Status {
	case statusUpdated:
		return nil
	case statusNotFound:
		return store.ErrNotFound
	default:
		return remoteError(rep)
	}
}

// Close stops the reply consumer and closes both Kafka clients. Callers still
// waiting receive ErrClosed.
func (d *KafkaDirectory) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for id, ch := range d.pending {
		close(ch)
		delete(d.pending, id)
	}
	d.mu.Unlock()

	d.cancel()
	<-d.done

	errs := []error{d.w.Close()}
	for _, r := range d.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

func (d *KafkaDirectory) call(ctx context.Context, req request) (reply, error) {
	req.CorrelationID = idx.New().String()

	body, err := json.Marshal(req)
	if err != nil {
		return reply{}, fmt.Errorf("directory: encode request: %w", err)
	}

	ch, err := d.register(req.CorrelationID)
	if err != nil {
		return reply{}, err
	}
	defer d.forget(req.CorrelationID)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err = d.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.Username),
		Value: body,
		Headers: []kafka.Header{
			{Key: correlationHeader, Value: []byte(req.CorrelationID)},
			{Key: replyToHeader, Value: []byte(d.replyTopic)},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return reply{}, fmt.Errorf("%w: %s %s", ErrTimeout, req.Action, req.Username)
		}
		return reply{}, fmt.Errorf("directory: send %s: %w", req.Action, err)
	}

	select {
	case rep, ok := <-ch:
		if !ok {
			return reply{}, ErrClosed
		}
		return rep, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return reply{}, fmt.Errorf("%w: %s %s", ErrTimeout, req.Action, req.Username)
		}
		return reply{}, ctx.Err()
	}
}

func (d *KafkaDirectory) register(id string) (chan reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	ch := make(chan reply, 1)
	d.pending[id] = ch
	return ch, nil
}

func (d *KafkaDirectory) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
}

// complete hands rep to its waiting caller. Replies for requests that timed
// out, or that another instance sent, are dropped.
func (d *KafkaDirectory) complete(rep reply) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, ok := d.pending[rep.CorrelationID]
	if !ok {
		d.logger.Debug("directory reply without pending request",
			"correlation_id", rep.CorrelationID,
			"username", rep.Username,
		)
		return
	}
	delete(d.pending, rep.CorrelationID)
	ch <- rep
}

func (d *KafkaDirectory) consume(ctx context.Context, r messageReader) {
	for {
		msg, err := r.ReadMessage(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.logger.Warn("directory reply read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var rep reply
		if err := json.Unmarshal(msg.Value, &rep); err != nil {
			d.logger.Warn("directory reply undecodable", "error", err, "offset", msg.Offset)
			continue
		}
		for _, h := range msg.Headers {
			if h.Key == correlationHeader && rep.CorrelationID == "" {
				rep.CorrelationID = string(h.Value)
			}
		}
		d.complete(rep)
	}
}

func remoteError(rep reply) error {
	if rep.Error != "" {
		return fmt.Errorf("%w: %s: %s", ErrRemote, rep.Status, rep.Error)
	}
	return fmt.Errorf("%w: unexpected status %q", ErrRemote, rep.Status)
}
