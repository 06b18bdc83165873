package node

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"dynakv/internal/record"
	"dynakv/internal/ring"
)

const (
	// ProxyHeader marks a request sent by a coordinator to a replica.
	ProxyHeader = "X-Dynakv-Proxy"
	proxyValue  = "true"
	// TimestampHeader carries the coordinator-assigned write timestamp.
	TimestampHeader = "X-Dynakv-Timestamp"

	entityPath = "/v0/entity"
)

// ErrUnknownPeer is returned for a node the manager has no client for.
var ErrUnknownPeer = errors.New("unknown peer")

// StatusError is an unexpected HTTP status from a peer.
type StatusError struct {
	Peer string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer %s answered %d", e.Peer, e.Code)
}

type peerClient struct {
	base string
	http *http.Client
}

// ClientManager holds one HTTP client per peer. It is built once and only
// read afterwards, so it needs no locking.
type ClientManager struct {
	clients map[string]peerClient
	timeout time.Duration
}

// NewClientManager creates clients for every node except self. Every call
// through them is bounded by timeout.
func NewClientManager(nodes []ring.Node, selfID string, timeout time.Duration) *ClientManager {
	cm := &ClientManager{
		clients: make(map[string]peerClient, len(nodes)),
		timeout: timeout,
	}
	for _, n := range nodes {
		if n.ID == selfID {
			continue
		}
		cm.clients[n.ID] = peerClient{
			base: n.Addr,
			http: &http.Client{
				Timeout: timeout,
				Transport: &http.Transport{
					Proxy:               http.ProxyFromEnvironment,
					MaxIdleConnsPerHost: 64,
					IdleConnTimeout:     90 * time.Second,
				},
			},
		}
	}
	return cm
}

// Put stores value on peer at timestamp ts.
func (cm *ClientManager) Put(ctx context.Context, peer ring.Node, key, value []byte, ts int64) error {
	resp, err := cm.do(ctx, peer, http.MethodPut, key, value, ts)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusCreated {
		return &StatusError{Peer: peer.ID, Code: resp.StatusCode}
	}
	return nil
}

// Delete stores a tombstone on peer at timestamp ts.
func (cm *ClientManager) Delete(ctx context.Context, peer ring.Node, key []byte, ts int64) error {
	resp, err := cm.do(ctx, peer, http.MethodDelete, key, nil, ts)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusAccepted {
		return &StatusError{Peer: peer.ID, Code: resp.StatusCode}
	}
	return nil
}

// Get fetches the record peer holds for key. A 404 with an empty body is
// Missing. Any other failure, including a body that does not decode or
// does not match the status, is returned as an error.
func (cm *ClientManager) Get(ctx context.Context, peer ring.Node, key []byte) (record.Record, error) {
	resp, err := cm.do(ctx, peer, http.MethodGet, key, nil, 0)
	if err != nil {
		return record.Record{}, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return record.Record{}, &StatusError{Peer: peer.ID, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return record.Record{}, errors.Wrapf(err, "read reply from %s", peer.ID)
	}

	rec, err := record.Decode(body)
	if err != nil {
		return record.Record{}, errors.Wrapf(err, "reply from %s", peer.ID)
	}
	if (resp.StatusCode == http.StatusOK) != rec.IsValue() {
		return record.Record{}, errors.Wrapf(record.ErrMalformed,
			"reply from %s: %s with status %d", peer.ID, rec.Kind(), resp.StatusCode)
	}
	return rec, nil
}

func (cm *ClientManager) do(ctx context.Context, peer ring.Node, method string, key, body []byte, ts int64) (*http.Response, error) {
	pc, ok := cm.clients[peer.ID]
	if !ok {
		return nil, errors.Wrap(ErrUnknownPeer, peer.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, cm.timeout)
	u := pc.base + entityPath + "?" + url.Values{"id": {string(key)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set(ProxyHeader, proxyValue)
	if method != http.MethodGet {
		req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	}

	resp, err := pc.http.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "%s %s", method, peer.ID)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// Close drops idle connections to every peer.
func (cm *ClientManager) Close() {
	for _, pc := range cm.clients {
		pc.http.CloseIdleConnections()
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
