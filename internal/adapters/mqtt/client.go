package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mikey-austin/kodibridge/internal/adapters/mqttserver"
	"github.com/mikey-austin/kodibridge/pkg/kb"
)

// presenceWindow is how long ListPresence collects retained messages.
const presenceWindow = 250 * time.Millisecond

// ErrNoState is returned when a node has never published a state message.
var ErrNoState = errors.New("no retained state for node")

// Options configures the MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	TopicBase string
	Timeout   time.Duration
}

// Client is the controller side of the kodi node protocol.
type Client struct {
	client     paho.Client
	replyTopic string
	topicBase  string
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]chan kb.ReplyEnvelope
	watches map[*nodeWatch]struct{}
}

// NewClient connects to the broker and listens on the controller reply topic.
// Reply and watch subscriptions are restored whenever the broker connection
// comes back.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = kb.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}

	c := &Client{
		replyTopic: kb.TopicReply(opts.TopicBase, opts.ClientID),
		topicBase:  opts.TopicBase,
		timeout:    opts.Timeout,
		pending:    make(map[string]chan kb.ReplyEnvelope),
		watches:    make(map[*nodeWatch]struct{}),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetConnectTimeout(opts.Timeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(c.onConnect)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username).SetPassword(opts.Password)
	}
	tlsConfig, err := mqttserver.TLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	token := c.client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) onConnect(client paho.Client) {
	client.Subscribe(c.replyTopic, 1, c.handleReply).Wait()

	c.mu.Lock()
	watches := make([]*nodeWatch, 0, len(c.watches))
	for w := range c.watches {
		watches = append(watches, w)
	}
	c.mu.Unlock()
	for _, w := range watches {
		if err := w.subscribe(client); err != nil {
			w.fail(err)
		}
	}
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(100)
}

// ReplyTopic returns the topic nodes reply on.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// PublishCommand sends cmd to a kodi node and waits for the matching reply.
// The wait is bounded by ctx; the adapter timeout only applies when ctx has no
// deadline of its own, since library lookups on the Kodi side can be slow.
func (c *Client) PublishCommand(ctx context.Context, nodeID string, cmd kb.CommandEnvelope) (kb.ReplyEnvelope, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return kb.ReplyEnvelope{}, fmt.Errorf("marshal command: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	replies := c.expectReply(cmd.ID)
	defer c.forgetReply(cmd.ID)

	if token := c.client.Publish(kb.TopicCommands(c.topicBase, nodeID), 1, false, payload); token.Wait() && token.Error() != nil {
		return kb.ReplyEnvelope{}, fmt.Errorf("publish %s: %w", cmd.Type, token.Error())
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return kb.ReplyEnvelope{}, fmt.Errorf("no reply from %s to %s: %w", nodeID, cmd.Type, ctx.Err())
	}
}

func (c *Client) expectReply(id string) chan kb.ReplyEnvelope {
	ch := make(chan kb.ReplyEnvelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) forgetReply(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) handleReply(_ paho.Client, msg paho.Message) {
	var reply kb.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[reply.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

// ListPresence returns every kodi node with a retained presence message.
// Cleared presence (a stopped or crashed kodid) is skipped.
func (c *Client) ListPresence(ctx context.Context) ([]kb.Presence, error) {
	var (
		lock  sync.Mutex
		nodes = make(map[string]kb.Presence)
	)
	topic := kb.TopicPresence(c.topicBase, "+")
	handler := func(_ paho.Client, msg paho.Message) {
		p, ok := decodePresence(msg.Payload())
		if !ok {
			return
		}
		lock.Lock()
		nodes[p.NodeID] = p
		lock.Unlock()
	}
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	defer c.client.Unsubscribe(topic).Wait()

	window := time.NewTimer(presenceWindow)
	defer window.Stop()
	select {
	case <-ctx.Done():
	case <-window.C:
	}

	lock.Lock()
	defer lock.Unlock()
	out := make([]kb.Presence, 0, len(nodes))
	for _, p := range nodes {
		out = append(out, p)
	}
	return out, nil
}

// GetNodeState returns the retained availability state of a kodi node.
func (c *Client) GetNodeState(ctx context.Context, nodeID string) (kb.NodeState, error) {
	states := make(chan kb.NodeState, 1)
	topic := kb.TopicState(c.topicBase, nodeID)
	handler := func(_ paho.Client, msg paho.Message) {
		if state, ok := decodeState(msg.Payload()); ok {
			select {
			case states <- state:
			default:
			}
		}
	}
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return kb.NodeState{}, token.Error()
	}
	defer c.client.Unsubscribe(topic).Wait()

	// Retained messages arrive straight after the subscription, so a short
	// wait is enough to tell a silent node from a slow broker.
	wait := time.NewTimer(c.timeout)
	defer wait.Stop()
	select {
	case state := <-states:
		return state, nil
	case <-ctx.Done():
		return kb.NodeState{}, ctx.Err()
	case <-wait.C:
		return kb.NodeState{}, fmt.Errorf("%s: %w", nodeID, ErrNoState)
	}
}

// WatchNode streams availability changes and domain events for a kodi node
// until ctx is done. Repeated deliveries of an unchanged retained state, as
// happen after a broker reconnect, are suppressed.
func (c *Client) WatchNode(ctx context.Context, nodeID string) (<-chan kb.NodeState, <-chan kb.Event, <-chan error) {
	w := newNodeWatch(c.topicBase, nodeID)
	if err := w.subscribe(c.client); err != nil {
		w.fail(err)
		w.stop()
		return w.states, w.events, w.errs
	}

	c.mu.Lock()
	c.watches[w] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watches, w)
		c.mu.Unlock()
		c.client.Unsubscribe(w.stateTopic, w.eventTopic)
		w.stop()
	}()
	return w.states, w.events, w.errs
}

// nodeWatch fans one node's state and evt topics out to channels.
type nodeWatch struct {
	stateTopic string
	eventTopic string

	states chan kb.NodeState
	events chan kb.Event
	errs   chan error

	mu      sync.Mutex
	stopped bool
	last    *kb.NodeState
}

func newNodeWatch(topicBase, nodeID string) *nodeWatch {
	return &nodeWatch{
		stateTopic: kb.TopicState(topicBase, nodeID),
		eventTopic: kb.TopicEvents(topicBase, nodeID),
		states:     make(chan kb.NodeState, 8),
		events:     make(chan kb.Event, 32),
		errs:       make(chan error, 1),
	}
}

func (w *nodeWatch) subscribe(client paho.Client) error {
	token := client.SubscribeMultiple(map[string]byte{w.stateTopic: 1, w.eventTopic: 1}, w.handle)
	token.Wait()
	return token.Error()
}

func (w *nodeWatch) handle(_ paho.Client, msg paho.Message) {
	switch msg.Topic() {
	case w.stateTopic:
		if state, ok := decodeState(msg.Payload()); ok {
			w.deliverState(state)
		}
	case w.eventTopic:
		var evt kb.Event
		if err := json.Unmarshal(msg.Payload(), &evt); err == nil && evt.Type != "" {
			w.deliverEvent(evt)
		}
	}
}

func (w *nodeWatch) deliverState(state kb.NodeState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || (w.last != nil && sameState(*w.last, state)) {
		return
	}
	w.last = &state
	select {
	case w.states <- state:
	default:
	}
}

func (w *nodeWatch) deliverEvent(evt kb.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- evt:
	default:
	}
}

func (w *nodeWatch) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.errs <- err:
	default:
	}
}

func (w *nodeWatch) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.states)
	close(w.events)
	close(w.errs)
}

// sameState ignores the publish timestamp.
func sameState(a, b kb.NodeState) bool {
	return a.Available == b.Available &&
		a.Reconnected == b.Reconnected &&
		a.Endpoint == b.Endpoint &&
		a.Since == b.Since &&
		a.LastError == b.LastError
}

func decodePresence(payload []byte) (kb.Presence, bool) {
	if len(payload) == 0 {
		return kb.Presence{}, false
	}
	var p kb.Presence
	if err := json.Unmarshal(payload, &p); err != nil || p.NodeID == "" {
		return kb.Presence{}, false
	}
	if p.Kind != "" && p.Kind != kb.NodeKind {
		return kb.Presence{}, false
	}
	return p, true
}

// decodeState ignores cleared retained messages.
func decodeState(payload []byte) (kb.NodeState, bool) {
	if len(payload) == 0 {
		return kb.NodeState{}, false
	}
	var state kb.NodeState
	if err := json.Unmarshal(payload, &state); err != nil {
		return kb.NodeState{}, false
	}
	return state, true
}
