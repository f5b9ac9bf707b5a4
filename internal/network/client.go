package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/wmnsk/go-pfcp/message"
)

// ReceivedMessage is a PFCP message read from the peer.
type ReceivedMessage struct {
	Message message.Message
	Data    []byte
	From    *net.UDPAddr
}

// Client exchanges PFCP datagrams between the control-plane function and one
// user-plane peer over a single UDP socket.
type Client struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	msgChan chan ReceivedMessage
	mu      sync.Mutex
}

// Dial binds local ("ip:port", port 0 for any) and targets peer.
func Dial(local, peer string) (*Client, error) {
	localAddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("invalid local address %q: %w", local, err)
	}
	peerAddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("invalid peer address %q: %w", peer, err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP to %s: %w", local, err)
	}

	return &Client{
		conn:    conn,
		peer:    peerAddr,
		msgChan: make(chan ReceivedMessage, 1000),
	}, nil
}

// Send transmits one datagram to the peer.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.WriteToUDP(data, c.peer); err != nil {
		return fmt.Errorf("failed to send to %s: %w", c.peer, err)
	}
	return nil
}

// Start reads datagrams in a goroutine until ctx ends or the socket closes.
func (c *Client) Start(ctx context.Context) {
	go c.listen(ctx)
}

// Messages returns the channel of parsed inbound messages. It is closed when
// the read loop stops.
func (c *Client) Messages() <-chan ReceivedMessage {
	return c.msgChan
}

func (c *Client) listen(ctx context.Context) {
	defer close(c.msgChan)

	buf := make([]byte, 65535)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("Error reading from UDP")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		msg, err := message.Parse(data)
		if err != nil {
			log.WithError(err).WithField("from", addr).Warn("Failed to parse received PFCP message")
			continue
		}

		select {
		case c.msgChan <- ReceivedMessage{Message: msg, Data: data, From: addr}:
		case <-ctx.Done():
			return
		}
	}
}

// LocalAddr returns the bound address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the socket, which also stops the read loop.
func (c *Client) Close() error {
	return c.conn.Close()
}
