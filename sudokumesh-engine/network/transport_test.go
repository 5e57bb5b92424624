package network

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryTransportDelivery(t *testing.T) {
	mn := NewMemoryNetwork()
	a, err := mn.Listen(addrA)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer a.Close()
	b, err := mn.Listen(addrB)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer b.Close()

	if _, err := mn.Listen(addrA); err == nil {
		t.Error("Expected second Listen on the same address to fail")
	}

	if err := a.Send(addrB, []byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	payload, from, err := b.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(payload) != "hello" || from != addrA {
		t.Errorf("Expected hello from %v, got %q from %v", addrA, payload, from)
	}

	if _, _, err := b.Recv(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout on empty inbox, got %v", err)
	}
}

func TestMemoryTransportUnreachable(t *testing.T) {
	mn := NewMemoryNetwork()
	a, _ := mn.Listen(addrA)
	defer a.Close()
	b, _ := mn.Listen(addrB)

	b.Close()

	err := a.Send(addrB, []byte("x"))
	if !errors.Is(err, ErrPeerUnreachable) {
		t.Fatalf("Expected ErrPeerUnreachable, got %v", err)
	}
	if addr, ok := UnreachableAddr(err); !ok || addr != addrB {
		t.Errorf("Expected unreachable address %v, got %v", addrB, addr)
	}

	if _, _, err := b.Recv(time.Millisecond); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Expected ErrTransportClosed after Close, got %v", err)
	}
	if err := b.Send(addrA, []byte("x")); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Expected ErrTransportClosed on send after Close, got %v", err)
	}
}

func TestUDPTransportLoopback(t *testing.T) {
	a, err := ListenUDP("127.0.0.1", 0, "")
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer a.Close()
	b, err := ListenUDP("127.0.0.1", 0, "")
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer b.Close()

	if a.LocalAddr().Host != "127.0.0.1" || a.LocalAddr().Port == 0 {
		t.Fatalf("Expected bound loopback address, got %v", a.LocalAddr())
	}

	msg, _ := Encode(&Alive{})
	if err := a.Send(b.LocalAddr(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	payload, from, err := b.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if from != a.LocalAddr() {
		t.Errorf("Expected sender %v, got %v", a.LocalAddr(), from)
	}
	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Command() != CmdAlive {
		t.Errorf("Expected alive, got %s", decoded.Command())
	}

	if _, _, err := b.Recv(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}

	b.Close()
	if _, _, err := b.Recv(time.Millisecond); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Expected ErrTransportClosed, got %v", err)
	}
}

func TestUDPTransportNeverBlamesLivePeer(t *testing.T) {
	a, err := ListenUDP("127.0.0.1", 0, "")
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer a.Close()
	b, err := ListenUDP("127.0.0.1", 0, "")
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer b.Close()
	gone, err := ListenUDP("127.0.0.1", 0, "")
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	dead := gone.LocalAddr()
	gone.Close()

	msg, _ := Encode(&Alive{})
	for i := 0; i < 5; i++ {
		if err := a.Send(dead, msg); err != nil {
			t.Fatalf("Send to closed port failed: %v", err)
		}
		if err := a.Send(b.LocalAddr(), msg); err != nil {
			t.Fatalf("Send to live peer failed: %v", err)
		}
		if _, _, err := a.Recv(10 * time.Millisecond); err != nil && !errors.Is(err, ErrTimeout) {
			t.Fatalf("Expected ErrTimeout, got %v", err)
		}
	}
	if _, _, err := b.Recv(time.Second); err != nil {
		t.Errorf("Expected live peer to keep receiving, got %v", err)
	}
}

func TestUDPTransportRejectsOversized(t *testing.T) {
	a, err := ListenUDP("127.0.0.1", 0, "")
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer a.Close()

	if err := a.Send(addrB, make([]byte, MaxNetworkMessageSize+1)); !errors.Is(err, ErrMessageTooBig) {
		t.Errorf("Expected ErrMessageTooBig, got %v", err)
	}
}

func TestZmqTransportLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping zmq sockets in short mode")
	}

	a, err := ListenZmq("127.0.0.1", 47311, "")
	if err != nil {
		t.Fatalf("ListenZmq failed: %v", err)
	}
	defer a.Close()
	b, err := ListenZmq("127.0.0.1", 47312, "")
	if err != nil {
		t.Fatalf("ListenZmq failed: %v", err)
	}
	defer b.Close()

	msg, _ := Encode(&JoinRequest{})
	if err := a.Send(b.LocalAddr(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	payload, from, err := b.Recv(5 * time.Second)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if from != a.LocalAddr() {
		t.Errorf("Expected sender %v, got %v", a.LocalAddr(), from)
	}
	if string(payload) != string(msg) {
		t.Errorf("Expected %s, got %s", msg, payload)
	}
}
