package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"palaver/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
}

type gateway interface {
	Attach(userID string) (string, chan models.ServerEvent)
	Detach(userID, connID string)
	HandleClientEvent(userID string, ev models.ClientEvent)
}

// Connection drives one live client socket: a reader pump feeding the main
// loop, which multiplexes client events and server fanout. A connection
// silent past the heartbeat window is treated as gone.
type Connection struct {
	ws         wsConnection
	gw         gateway
	userID     string
	connID     string
	heartbeat  time.Duration
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(gw gateway, ws wsConnection, userID string, heartbeat time.Duration) *Connection {
	connID, fromServer := gw.Attach(userID)
	return &Connection{
		ws:         ws,
		gw:         gw,
		userID:     userID,
		connID:     connID,
		heartbeat:  heartbeat,
		fromClient: make(chan models.ClientEvent),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.gw.Detach(c.userID, c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		if c.heartbeat > 0 {
			if err := c.ws.SetReadDeadline(time.Now().Add(c.heartbeat)); err != nil {
				return err
			}
		}
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			c.gw.HandleClientEvent(c.userID, ev)
		case ev, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
