package ipc

import (
	"testing"
	"time"

	"github.com/m512i/ZurichOS-sub001/defs"
)

func TestMsgqSendReceiveRoundTrip(t *testing.T) {
	tbl := NewMsgqTable()
	id, err := tbl.Create(7)
	if err != 0 {
		t.Fatalf("Create: %v", err)
	}
	q := tbl.Get(id)
	if q == nil {
		t.Fatal("Get returned nil right after Create")
	}

	if err := q.Send([]byte("hello"), 1); err != 0 {
		t.Fatalf("Send: %v", err)
	}

	dst := make([]byte, 16)
	n, err := q.Receive(dst, 0)
	if err != 0 {
		t.Fatalf("Receive: %v", err)
	}
	if string(dst[:n]) != "hello" {
		t.Fatalf("Receive = %q, want %q", dst[:n], "hello")
	}
}

// TestMsgqReceiveIsSelectiveByType verifies mtype > 0 only matches an
// exact type and mtype == 0 matches the first message queued,
// regardless of type, the same selection rule msgrcv(2) documents.
func TestMsgqReceiveIsSelectiveByType(t *testing.T) {
	tbl := NewMsgqTable()
	id, _ := tbl.Create(9)
	q := tbl.Get(id)

	if err := q.Send([]byte("low"), 1); err != 0 {
		t.Fatalf("Send low: %v", err)
	}
	if err := q.Send([]byte("high"), 5); err != 0 {
		t.Fatalf("Send high: %v", err)
	}

	dst := make([]byte, 16)
	n, err := q.Receive(dst, 5)
	if err != 0 {
		t.Fatalf("Receive mtype 5: %v", err)
	}
	if string(dst[:n]) != "high" {
		t.Fatalf("Receive mtype 5 = %q, want %q", dst[:n], "high")
	}

	n, err = q.Receive(dst, 0)
	if err != 0 {
		t.Fatalf("Receive mtype 0: %v", err)
	}
	if string(dst[:n]) != "low" {
		t.Fatalf("Receive mtype 0 = %q, want %q (the remaining message)", dst[:n], "low")
	}
}

// TestMsgqReceiveBlocksUntilMatchingSend exercises the blocking path:
// a Receive parked on an empty queue wakes once a matching Send
// arrives.
func TestMsgqReceiveBlocksUntilMatchingSend(t *testing.T) {
	tbl := NewMsgqTable()
	id, _ := tbl.Create(3)
	q := tbl.Get(id)

	got := make(chan string, 1)
	go func() {
		dst := make([]byte, 16)
		n, err := q.Receive(dst, 0)
		if err != 0 {
			t.Errorf("Receive: %v", err)
			return
		}
		got <- string(dst[:n])
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Send([]byte("delayed"), 1); err != 0 {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-got:
		if msg != "delayed" {
			t.Fatalf("received %q, want %q", msg, "delayed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive never woke up after a matching Send")
	}
}

func TestMsgqTableCreateRejectsDuplicateKeyAndEnforcesLimit(t *testing.T) {
	tbl := NewMsgqTable()
	if _, err := tbl.Create(1); err != 0 {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := tbl.Create(1); err != defs.EEXIST {
		t.Fatalf("duplicate key Create = %v, want EEXIST", err)
	}

	for i := 2; i <= MAX_MSG_QUEUES; i++ {
		if _, err := tbl.Create(uint32(i)); err != 0 {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}
	if _, err := tbl.Create(uint32(MAX_MSG_QUEUES + 1)); err != defs.ENOMEM {
		t.Fatalf("Create past MAX_MSG_QUEUES = %v, want ENOMEM", err)
	}
}

func TestMsgqDestroyFreesKeyAndSlot(t *testing.T) {
	tbl := NewMsgqTable()
	id, _ := tbl.Create(5)
	if err := tbl.Destroy(id); err != 0 {
		t.Fatalf("Destroy: %v", err)
	}
	if tbl.Get(id) != nil {
		t.Fatal("Get returned a queue after Destroy")
	}
	if _, err := tbl.Create(5); err != 0 {
		t.Fatalf("Create after Destroy did not reuse the freed key: %v", err)
	}
}
