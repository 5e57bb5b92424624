package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// ZmqTransport is a Transport over ZeroMQ: a ROUTER socket receives, and one
// DEALER socket per peer sends. Every DEALER carries the sender's address as
// its identity so the ROUTER side learns who a frame came from.
type ZmqTransport struct {
	local Address

	ctx    context.Context
	cancel context.CancelFunc

	router  zmq4.Socket
	dealers map[Address]zmq4.Socket
	mu      sync.Mutex

	incoming chan datagram
	running  bool
	wg       sync.WaitGroup
}

// ListenZmq binds a ROUTER socket on tcp://host:port and advertises
// advertiseHost (or the detected outbound IP when empty).
func ListenZmq(host string, port int, advertiseHost string) (*ZmqTransport, error) {
	if advertiseHost == "" {
		advertiseHost = host
		if host == "" || host == "0.0.0.0" || host == "*" {
			advertiseHost = OutboundIP()
		}
	}
	if host == "" {
		host = "*"
	}

	local := NewAddress(advertiseHost, port)
	ctx, cancel := context.WithCancel(context.Background())
	t := &ZmqTransport{
		local:    local,
		ctx:      ctx,
		cancel:   cancel,
		dealers:  make(map[Address]zmq4.Socket),
		incoming: make(chan datagram, 1000),
	}

	t.router = zmq4.NewRouter(ctx, zmq4.WithID(zmq4.SocketIdentity(local.String())))
	if err := t.router.Listen(fmt.Sprintf("tcp://%s:%d", host, port)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to bind router: %w", err)
	}
	t.running = true

	t.wg.Add(1)
	go t.receiverLoop()

	return t, nil
}

// LocalAddr implements Transport.
func (t *ZmqTransport) LocalAddr() Address {
	return t.local
}

// Send implements Transport. A peer that cannot be dialed is reported as
// unreachable and its dealer discarded.
func (t *ZmqTransport) Send(to Address, payload []byte) error {
	if len(payload) > MaxNetworkMessageSize {
		return ErrMessageTooBig
	}

	dealer, err := t.getOrCreateDealer(to)
	if err != nil {
		if errors.Is(err, ErrTransportClosed) {
			return err
		}
		return &UnreachableError{Addr: to, Err: err}
	}

	if err := dealer.Send(zmq4.NewMsg(payload)); err != nil {
		t.dropDealer(to)
		return &UnreachableError{Addr: to, Err: err}
	}
	return nil
}

// Recv implements Transport.
func (t *ZmqTransport) Recv(timeout time.Duration) ([]byte, Address, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.ctx.Done():
		return nil, Address{}, ErrTransportClosed
	case d := <-t.incoming:
		return d.payload, d.from, nil
	case <-timer.C:
		return nil, Address{}, ErrTimeout
	}
}

// Close implements Transport.
func (t *ZmqTransport) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	dealers := t.dealers
	t.dealers = make(map[Address]zmq4.Socket)
	t.mu.Unlock()

	t.cancel()

	// best effort, errors are expected while the context is torn down
	_ = t.router.Close()
	for _, dealer := range dealers {
		_ = dealer.Close()
	}

	t.wg.Wait()
	return nil
}

func (t *ZmqTransport) getOrCreateDealer(to Address) (zmq4.Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil, ErrTransportClosed
	}
	if dealer, ok := t.dealers[to]; ok {
		return dealer, nil
	}

	dealer := zmq4.NewDealer(t.ctx, zmq4.WithID(zmq4.SocketIdentity(t.local.String())))
	if err := dealer.Dial(fmt.Sprintf("tcp://%s", to)); err != nil {
		_ = dealer.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", to, err)
	}

	t.dealers[to] = dealer
	return dealer, nil
}

func (t *ZmqTransport) dropDealer(to Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dealer, ok := t.dealers[to]; ok {
		_ = dealer.Close()
		delete(t.dealers, to)
	}
}

// receiverLoop moves ROUTER frames onto the incoming channel. Frame 0 is the
// sender identity, the last frame is the payload.
func (t *ZmqTransport) receiverLoop() {
	defer t.wg.Done()

	for {
		msg, err := t.router.Recv()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				continue
			}
		}
		if len(msg.Frames) < 2 {
			continue
		}

		from, err := ParseAddress(string(msg.Frames[0]))
		if err != nil {
			continue
		}

		select {
		case t.incoming <- datagram{from: from, payload: msg.Frames[len(msg.Frames)-1]}:
		default:
			// full, drop
		}
	}
}
