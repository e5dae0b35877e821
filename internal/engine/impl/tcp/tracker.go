package tcp

import (
	"net/netip"
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/engine/flow"
	"Go2FlowSpectra/internal/model"
)

type connState int

const (
	stateClosed connState = iota
	stateOpening
	stateOpened
)

// tracker follows one TCP conversation. Array fields are indexed by the
// canonical endpoint position of flow.Identity.
type tracker struct {
	key    aggregate.Key
	server int
	client netip.Addr

	state      connState
	everOpened bool

	nextSeq  [2]uint32
	seqValid [2]bool

	synTime  [2]time.Time
	synSeen  [2]bool
	synAcked [2]bool

	finSeq   [2]uint32
	finSeen  [2]bool
	finAcked [2]bool

	lastSeen [2]time.Time

	lastPayload    time.Time
	lastPayloadDir int
	pendingReq     int
}

func newTracker(key aggregate.Key, id flow.Identity, server int, now time.Time) *tracker {
	return &tracker{
		key:            key,
		server:         server,
		client:         id.IP[1-server],
		lastSeen:       [2]time.Time{now, now},
		lastPayloadDir: -1,
	}
}

// seqGreater reports a > b in 32-bit sequence space.
func seqGreater(a, b uint32) bool {
	return int32(a-b) > 0
}

// seqGE reports a >= b in 32-bit sequence space.
func seqGE(a, b uint32) bool {
	return int32(a-b) >= 0
}

// process advances the state machine with one segment sent from position d
// and returns the deltas to apply to the aggregate.
func (t *tracker) process(pkt *model.PacketInfo, d flow.Direction) Event {
	h := pkt.TCP
	now := pkt.Timestamp
	src, dst := int(d), int(d.Peer())
	payload := len(pkt.Payload)

	ev := Event{
		Packet:     true,
		ToServer:   src != t.server,
		Client:     t.client,
		Frame:      pkt.Length,
		Syn:        h.SYN && !h.ACK,
		SynAck:     h.SYN && h.ACK,
		Fin:        h.FIN,
		Rst:        h.RST && !h.SYN && !h.FIN,
		ZeroWindow: h.Window == 0 && !h.RST,
	}
	if now.After(t.lastSeen[src]) {
		t.lastSeen[src] = now
	}

	if h.SYN {
		if t.state != stateOpened {
			t.state = stateOpening
		}
		if !t.synSeen[src] {
			t.synSeen[src] = true
			t.synTime[src] = now
		}
	}

	if h.ACK && !h.RST && t.seqValid[dst] {
		t.checkAck(h, now, src, dst, &ev)
	}

	end := h.Seq + uint32(payload)
	if h.SYN {
		end++
	}
	if h.FIN {
		end++
	}
	retransmit := payload > 0 && t.seqValid[src] && seqGE(t.nextSeq[src], end)
	switch {
	case !t.seqValid[src]:
		t.nextSeq[src] = end
		t.seqValid[src] = true
	case seqGreater(end, t.nextSeq[src]):
		t.nextSeq[src] = end
	}

	if retransmit {
		ev.Retransmit = true
	} else if payload > 0 {
		t.trackPayload(now, src, payload, &ev)
	}

	if h.FIN && !t.finSeen[src] {
		t.finSeen[src] = true
		t.finSeq[src] = end
	}

	switch {
	case t.finAcked[0] && t.finAcked[1]:
		t.finish(&ev)
	case h.RST && t.state != stateClosed:
		t.finish(&ev)
	}
	return ev
}

// checkAck handles an acknowledgement from src covering data sent by dst.
func (t *tracker) checkAck(h *model.TCPInfo, now time.Time, src, dst int, ev *Event) {
	ack := h.Ack
	switch {
	case t.synSeen[dst] && !t.synAcked[dst] && ack == t.nextSeq[dst]:
		t.synAcked[dst] = true
		if t.synAcked[src] && t.state == stateOpening {
			t.open(ev)
			client := 1 - t.server
			if !t.synSeen[client] {
				client = t.server
			}
			ev.HasConnTime = true
			ev.ConnTime = now.Sub(t.synTime[client])
		}
	case t.state == stateClosed && !t.everOpened && !h.SYN && ack == t.nextSeq[dst]:
		// Established before the capture started.
		t.open(ev)
	case seqGreater(ack, t.nextSeq[dst]):
		ev.Gap = true
		t.pendingReq = 0
		t.lastPayload = time.Time{}
		t.lastPayloadDir = -1
		t.nextSeq[dst] = ack
	}

	if t.finSeen[dst] && !t.finAcked[dst] && seqGE(ack, t.finSeq[dst]) {
		t.finAcked[dst] = true
	}
}

func (t *tracker) open(ev *Event) {
	t.state = stateOpened
	t.everOpened = true
	ev.Opened = true
}

// trackPayload measures the server response time as a reversal from a
// client payload run to the first server payload.
func (t *tracker) trackPayload(now time.Time, src, payload int, ev *Event) {
	if src != t.server {
		if t.lastPayloadDir != src {
			t.pendingReq = 0
		}
		t.pendingReq += payload
		t.lastPayload = now
		t.lastPayloadDir = src
		return
	}
	if t.lastPayloadDir >= 0 && t.lastPayloadDir != src && t.pendingReq > 0 {
		ev.HasSRT = true
		ev.SRT = now.Sub(t.lastPayload)
		ev.ReqSize = t.pendingReq
		t.pendingReq = 0
	}
	t.lastPayload = now
	t.lastPayloadDir = src
}

// finish reports the end of the current connection and clears the
// per-connection state. The tracker stays in the flow table until evicted.
func (t *tracker) finish(ev *Event) {
	switch t.state {
	case stateOpened:
		ev.Closed = true
	case stateOpening:
		ev.Failed = true
	}
	t.state = stateClosed
	t.nextSeq = [2]uint32{}
	t.seqValid = [2]bool{}
	t.synTime = [2]time.Time{}
	t.synSeen = [2]bool{}
	t.synAcked = [2]bool{}
	t.finSeq = [2]uint32{}
	t.finSeen = [2]bool{}
	t.finAcked = [2]bool{}
	t.lastPayload = time.Time{}
	t.lastPayloadDir = -1
	t.pendingReq = 0
}

// idle returns the larger of the two per-direction idle durations.
func (t *tracker) idle(now time.Time) time.Duration {
	oldest := t.lastSeen[0]
	if t.lastSeen[1].Before(oldest) {
		oldest = t.lastSeen[1]
	}
	return now.Sub(oldest)
}

// expire force-finalises the tracker before eviction. ok is false when the
// connection was already closed and nothing is left to report.
func (t *tracker) expire() (Event, bool) {
	if t.state == stateClosed {
		return Event{}, false
	}
	var ev Event
	t.finish(&ev)
	return ev, true
}
