package ws

import (
	"context"
	"errors"
	"sync"

	"parley/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type sessionHub interface {
	Join(endpointID, userID string) chan models.ServerEvent
	Leave(endpointID string)
	Dispatch(endpointID, userID string, ev models.ClientEvent)
}

// Connection glues one websocket to the hub: a read pump feeding client
// events in and a main loop interleaving them with outbound server events.
type Connection struct {
	ws         wsConnection
	hub        sessionHub
	endpointID string
	userID     string
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(hub sessionHub, ws wsConnection, endpointID, userID string) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		endpointID: endpointID,
		userID:     userID,
		fromClient: make(chan models.ClientEvent),
		fromServer: hub.Join(endpointID, userID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.endpointID)
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
			c.hub.Dispatch(c.endpointID, c.userID, ev)
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
