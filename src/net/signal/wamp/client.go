package wamp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/rendezvous/src/classify"
	"github.com/mosaicnetworks/rendezvous/src/discovery"
	"github.com/mosaicnetworks/rendezvous/src/net/signal"
	"github.com/mosaicnetworks/rendezvous/src/relay"
	"github.com/mosaicnetworks/rendezvous/src/rendezvous"
	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// Client implements the Signal interface. It registers with a rendezvous
// server over WAMP, and sends and receives SDP offers through it.
//
// Offers and answers travel as separate relay calls, so an offerer waits on a
// pending channel for the answer envelope rather than on the relay call
// itself.
type Client struct {
	peerID      string
	identityKey string
	pubKey      string
	port        int
	metadata    classify.Metadata
	routerURL   string
	config      client.Config
	client      *client.Client
	consumer    chan signal.OfferPromise
	logger      *logrus.Entry

	pendingMu sync.Mutex
	pending   map[string]chan *webrtc.SessionDescription
}

// NewClient instantiates a new Client, and opens a TLS connection to the WAMP
// rendezvous server.
func NewClient(
	server string,
	realm string,
	peerID string,
	pubKey string,
	port int,
	metadata classify.Metadata,
	caFile string,
	insecureSkipVerify bool,
	responseTimeout time.Duration,
	logger *logrus.Entry,
) (*Client, error) {

	cfg := client.Config{
		Realm:           realm,
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}

	tlscfg := &tls.Config{}

	if insecureSkipVerify {
		logger.Debug("Skip Verify. Accepting any certificate provided by rendezvous server.")
		tlscfg.InsecureSkipVerify = true
	} else if _, err := os.Stat(caFile); os.IsNotExist(err) {
		logger.Debugf("No certificate file found. Relying on platform trusted certificates.")
	} else {
		// Load PEM-encoded certificate to trust.
		certPEM, err := ioutil.ReadFile(caFile)
		if err != nil {
			return nil, err
		}

		// Create CertPool containing the certificate to trust.
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(certPEM) {
			return nil, errors.New("Failed to import certificate to trust")
		}

		// Trust the certificate by putting it into the pool of root CAs.
		tlscfg.RootCAs = roots

		// Decode and parse the server cert to extract the subject info.
		block, _ := pem.Decode(certPEM)
		if block == nil {
			return nil, errors.New("Failed to decode certificate to trust")
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}

		logger.Debugf("Trusting certificate %s with CN: %s", caFile, cert.Subject.CommonName)

		// Set ServerName in TLS config to CN from trusted cert so that
		// certificate will validate if CN does not match DNS name.
		tlscfg.ServerName = cert.Subject.CommonName
	}

	cfg.TlsCfg = tlscfg

	return newClient(fmt.Sprintf("wss://%s", server), cfg, peerID, pubKey, port, metadata, logger)
}

// NewPlainClient instantiates a Client over a plaintext WebSocket connection.
// This matches a server created with NewServer, and is intended for LAN
// deployments and tests.
func NewPlainClient(
	server string,
	realm string,
	peerID string,
	pubKey string,
	port int,
	metadata classify.Metadata,
	responseTimeout time.Duration,
	logger *logrus.Entry,
) (*Client, error) {

	cfg := client.Config{
		Realm:           realm,
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}

	return newClient(fmt.Sprintf("ws://%s", server), cfg, peerID, pubKey, port, metadata, logger)
}

func newClient(
	routerURL string,
	cfg client.Config,
	peerID string,
	pubKey string,
	port int,
	metadata classify.Metadata,
	logger *logrus.Entry,
) (*Client, error) {

	res := &Client{
		peerID:    peerID,
		pubKey:    pubKey,
		port:      port,
		metadata:  metadata,
		routerURL: routerURL,
		config:    cfg,
		consumer:  make(chan signal.OfferPromise),
		pending:   make(map[string]chan *webrtc.SessionDescription),
		logger:    logger,
	}

	if err := res.Connect(); err != nil {
		return nil, err
	}

	return res, nil
}

// Connect creates a new WAMP client connected to a WAMP router specified by
// the client's routerURL. If a WAMP client already exists and is already
// connected, it does nothing.
func (c *Client) Connect() error {
	if c.client != nil && c.client.Connected() {
		return nil
	}

	cli, err := client.ConnectNet(
		context.Background(),
		c.routerURL,
		c.config,
	)
	if err != nil {
		return err
	}

	c.client = cli

	return nil
}

// ID implements the Signal interface. It returns the peerId identifying this
// client.
func (c *Client) ID() string {
	return c.peerID
}

// Register announces this peer to the rendezvous server and returns the
// server's response, which includes the assigned region, the computed trust
// classification, and a bootstrap set.
func (c *Client) Register() (*rendezvous.RegisterResponse, error) {
	req := rendezvous.RegisterRequest{
		PeerID:      c.peerID,
		IdentityKey: c.identityKey,
		PubKey:      c.pubKey,
		Port:        c.port,
		Metadata:    c.metadata,
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp := &rendezvous.RegisterResponse{}
	if err := c.call(ProcRegister, wamp.List{string(raw)}, resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// Heartbeat refreshes this peer's liveness on the server.
func (c *Client) Heartbeat() (*rendezvous.HeartbeatResponse, error) {
	resp := &rendezvous.HeartbeatResponse{}
	if err := c.call(ProcHeartbeat, wamp.List{c.peerID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Unregister removes this peer from the server's registry.
func (c *Client) Unregister() error {
	return c.call(ProcUnregister, wamp.List{c.peerID}, nil)
}

// Discover requests a fresh bootstrap set from the server.
func (c *Client) Discover() ([]discovery.Candidate, error) {
	peers := []discovery.Candidate{}
	if err := c.call(ProcDiscover, wamp.List{c.peerID}, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// Closest requests the k registered peers whose identity keys are closest to
// targetKey in XOR distance.
func (c *Client) Closest(targetKey string, k int) ([]discovery.Neighbor, error) {
	neighbors := []discovery.Neighbor{}
	if err := c.call(ProcClosest, wamp.List{targetKey, k}, &neighbors); err != nil {
		return nil, err
	}
	return neighbors, nil
}

// call performs a WAMP call and decodes the JSON result into out, if out is
// not nil.
func (c *Client) call(procedure string, args wamp.List, out interface{}) error {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		c.config.ResponseTimeout,
	)
	defer cancel()

	result, err := c.client.Call(ctx, procedure, nil, args, nil, nil)
	if err != nil {
		c.logger.Error(err)
		return err
	}

	if out == nil {
		return nil
	}

	raw, ok := wamp.AsString(result.Arguments[0])
	if !ok {
		return fmt.Errorf("%s returned a non-string result", procedure)
	}

	return json.Unmarshal([]byte(raw), out)
}

// Listen implements the Signal interface. It registers this peer's delivery
// procedure within the WAMP router. The procedure receives signaling
// envelopes forwarded by the server and is identified by the client's peerId.
func (c *Client) Listen() error {
	if err := c.client.Register(c.ID(), c.deliveryHandler, nil); err != nil {
		c.logger.WithError(err).Error("Failed to register procedure")
		return err
	}
	c.logger.Debug("Registered procedure with router")
	return nil
}

// Offer implements the Signal interface. It relays an SDP offer to the target
// peer and waits for the answer envelope to come back through the delivery
// procedure.
func (c *Client) Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	answerCh := make(chan *webrtc.SessionDescription, 1)

	c.pendingMu.Lock()
	c.pending[target] = answerCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, target)
		c.pendingMu.Unlock()
	}()

	if err := c.relay(relay.Offer, target, offer); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.config.ResponseTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, errors.New("Offer TIMEOUT")
	case answer := <-answerCh:
		return answer, nil
	}
}

// relay asks the server to forward a payload to the target peer.
func (c *Client) relay(action relay.Action, target string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	callArgs := wamp.List{
		string(action),
		c.peerID,
		target,
		string(raw),
	}

	return c.call(ProcRelay, callArgs, nil)
}

// Consumer implements the Signal interface. It returns the channel through
// which incoming WebRTC offers are received. The offers are wrapped inside
// promises which provide an asynchronous response mechanism.
func (c *Client) Consumer() <-chan signal.OfferPromise {
	return c.consumer
}

// Close unregisters from the server and closes the WAMP connection.
func (c *Client) Close() error {
	if err := c.Unregister(); err != nil {
		c.logger.WithError(err).Debug("Unregistering from server")
	}
	c.client.Unregister(c.ID())
	return c.client.Close()
}

// deliveryHandler is called when the server forwards a signaling envelope to
// this peer. The single argument is the encoded envelope.
func (c *Client) deliveryHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	raw, ok := singleString(inv)
	if !ok {
		return offerErrResult("Invocation should contain the envelope as its single argument")
	}

	env := &relay.Envelope{}
	if err := env.Unmarshal([]byte(raw)); err != nil {
		return offerErrResult(fmt.Sprintf("Error parsing envelope: %v", err))
	}

	switch env.Action {
	case relay.Offer:
		offer, err := env.SessionDescription()
		if err != nil {
			return offerErrResult(err.Error())
		}
		// The server's delivery call is acknowledged immediately. The
		// answer goes back through a separate relay call once the
		// application responds to the promise.
		go c.processOffer(env.From, *offer)
	case relay.Answer:
		answer, err := env.SessionDescription()
		if err != nil {
			return offerErrResult(err.Error())
		}
		c.resolveAnswer(env.From, answer)
	default:
		c.logger.WithField("action", env.Action).Debug("Ignoring envelope")
	}

	return client.InvokeResult{
		Args: wamp.List{"ack"},
	}
}

// processOffer forwards an incoming offer to the consumer channel and relays
// the application's answer back to the offerer.
func (c *Client) processOffer(from string, offer webrtc.SessionDescription) {
	respCh := make(chan signal.OfferPromiseResponse, 1)

	promise := signal.OfferPromise{
		From:     from,
		Offer:    offer,
		RespChan: respCh,
	}

	c.consumer <- promise

	// Wait for response
	timer := time.NewTimer(c.config.ResponseTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		c.logger.WithField("from", from).Error("Callee TIMEOUT")
	case resp := <-respCh:
		if resp.Error != nil {
			c.logger.WithError(resp.Error).Error("Processing offer")
			return
		}

		if err := c.relay(relay.Answer, from, resp.Answer); err != nil {
			c.logger.WithError(err).Error("Relaying answer")
		}
	}
}

func (c *Client) resolveAnswer(from string, answer *webrtc.SessionDescription) {
	c.pendingMu.Lock()
	ch, ok := c.pending[from]
	if ok {
		delete(c.pending, from)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.WithField("from", from).Debug("No pending offer for answer")
		return
	}

	ch <- answer
}

func offerErrResult(msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  ErrProcessingOffer,
		Args: wamp.List{msg},
	}
}
