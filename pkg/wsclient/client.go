package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"recording-ingest/constant"
	"recording-ingest/dto"
)

var ErrClosed = errors.New("connection closed")

// RemoteError is a request the server answered with success=false.
type RemoteError struct {
	Type    constant.MessageType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Type, e.Message)
}

// Client speaks the ingest channel protocol. Every request gets an id and a
// future that is resolved by the matching response.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan dto.Response
	closed  bool
	err     error
	done    chan struct{}
}

// Dial connects to url, retrying with exponential backoff until ctx is done
// or the retries run out.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	operation := func() (*websocket.Conn, error) {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("url", url).Msg("failed to connect to ingest server, retrying")
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 5 * time.Second
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan dto.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c, nil
}

func (c *Client) readLoop(ctx context.Context) {
	var err error
	defer func() { c.shutdown(err) }()

	for {
		var resp dto.Response
		if err = c.conn.ReadJSON(&resp); err != nil {
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			zerolog.Ctx(ctx).Debug().Str("id", resp.ID).Msg("response for unknown request")
			continue
		}
		ch <- resp
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Call is a request that is on the wire and waiting for its response.
type Call struct {
	client  *Client
	id      string
	msgType constant.MessageType
	future  chan dto.Response
}

// Go writes one message and returns without waiting for the response.
// Messages passed to Go from one goroutine reach the server in call order.
func (c *Client) Go(msgType constant.MessageType, payload any) (*Call, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	envelope := dto.Envelope{ID: uuid.NewString(), Type: msgType, Payload: body}

	future := make(chan dto.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[envelope.ID] = future
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(envelope)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(envelope.ID)
		return nil, err
	}
	return &Call{client: c, id: envelope.ID, msgType: msgType, future: future}, nil
}

// Wait blocks until the response arrives and decodes its data into out,
// which may be nil.
func (call *Call) Wait(ctx context.Context, out any) error {
	select {
	case <-ctx.Done():
		call.client.forget(call.id)
		return ctx.Err()
	case resp, ok := <-call.future:
		if !ok {
			return ErrClosed
		}
		if !resp.Success {
			return &RemoteError{Type: call.msgType, Message: resp.Error}
		}
		if out != nil && len(resp.Data) > 0 {
			return json.Unmarshal(resp.Data, out)
		}
		return nil
	}
}

// Request sends one message and waits for its response. out may be nil.
func (c *Client) Request(ctx context.Context, msgType constant.MessageType, payload, out any) error {
	call, err := c.Go(msgType, payload)
	if err != nil {
		return err
	}
	return call.Wait(ctx, out)
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) Start(ctx context.Context, req dto.StartRecordingRequest) (string, error) {
	var resp dto.StartRecordingResponse
	if err := c.Request(ctx, constant.MessageTypeStart, req, &resp); err != nil {
		return "", err
	}
	return resp.RecordingID, nil
}

func (c *Client) SendFrame(ctx context.Context, req dto.FrameRequest) (*dto.FrameAck, error) {
	var ack dto.FrameAck
	if err := c.Request(ctx, constant.MessageTypeFrame, req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *Client) SendAudio(ctx context.Context, req dto.AudioChunkRequest) error {
	return c.Request(ctx, constant.MessageTypeAudio, req, nil)
}

func (c *Client) Pause(ctx context.Context, roomID string) error {
	return c.Request(ctx, constant.MessageTypePause, dto.RoomRequest{RoomID: roomID}, nil)
}

func (c *Client) Resume(ctx context.Context, roomID string) error {
	return c.Request(ctx, constant.MessageTypeResume, dto.RoomRequest{RoomID: roomID}, nil)
}

func (c *Client) Stop(ctx context.Context, req dto.StopRequest) (*dto.StopResponse, error) {
	var resp dto.StopResponse
	if err := c.Request(ctx, constant.MessageTypeStop, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status(ctx context.Context, roomID string) (*dto.StatusResponse, error) {
	var resp dto.StatusResponse
	if err := c.Request(ctx, constant.MessageTypeStatus, dto.RoomRequest{RoomID: roomID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForArtifact polls the room status until the recording completes or
// fails, or ctx expires.
func (c *Client) WaitForArtifact(ctx context.Context, roomID string, interval time.Duration) (*dto.StatusResponse, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, roomID)
		if err != nil && !isRemote(err) {
			return nil, err
		}
		if err == nil {
			switch status.Status {
			case constant.RecordingStatusCompleted:
				if status.ArtifactURL != "" {
					return status, nil
				}
			case constant.RecordingStatusFailed:
				return status, fmt.Errorf("recording failed: %s", status.LastError)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

// Err is the reason the connection ended, nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
