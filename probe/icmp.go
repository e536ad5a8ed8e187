package probe

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/karatag/satsweep/target"
)

const (
	timeSliceLength  = 8
	trackerLength    = len(uuid.UUID{})
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

var (
	ipv4Proto = map[bool]string{true: "ip4:icmp", false: "udp4"}
	ipv6Proto = map[bool]string{true: "ip6:ipv6-icmp", false: "udp6"}
)

// ICMP measures RTT with a single echo request per probe. Each invocation
// opens its own socket, so concurrent probes never share connection state.
type ICMP struct {
	Timeout time.Duration

	// Size is the echo payload length. Payloads smaller than the embedded
	// timestamp plus tracker UUID are padded up to that minimum.
	Size int

	// Privileged selects raw ICMP sockets over unprivileged UDP datagram
	// sockets. Raw sockets require root but expose unreachable replies.
	Privileged bool
}

func (p *ICMP) Type() Type { return TypeICMP }

func (p *ICMP) Probe(ctx context.Context, tgt target.Target) Outcome {
	ipaddr, err := net.ResolveIPAddr("ip", tgt.Addr)
	if err != nil {
		logrus.Debugf("icmp %s: resolve failed: %v", tgt.Addr, err)
		return failure(tgt, TypeICMP, StatusError)
	}
	isV4 := ipaddr.IP.To4() != nil

	var conn *icmp.PacketConn
	if isV4 {
		conn, err = icmp.ListenPacket(ipv4Proto[p.Privileged], "")
	} else {
		conn, err = icmp.ListenPacket(ipv6Proto[p.Privileged], "")
	}
	if err != nil {
		if os.IsPermission(err) {
			logrus.Errorf("icmp %s: raw sockets require elevated privileges: %v", tgt.Addr, err)
		} else {
			logrus.Debugf("icmp %s: listen failed: %v", tgt.Addr, err)
		}
		return failure(tgt, TypeICMP, StatusError)
	}
	defer conn.Close()

	tracker := uuid.New()
	id := newEchoID()

	var dst net.Addr = ipaddr
	if !p.Privileged {
		dst = &net.UDPAddr{IP: ipaddr.IP, Zone: ipaddr.Zone}
	}

	if err := p.send(conn, dst, id, tracker, isV4); err != nil {
		logrus.Debugf("icmp %s: send failed: %v", tgt.Addr, err)
		return failure(tgt, TypeICMP, StatusError)
	}

	return p.await(ctx, conn, tgt, id, tracker, isV4)
}

func (p *ICMP) send(conn *icmp.PacketConn, dst net.Addr, id int, tracker uuid.UUID, isV4 bool) error {
	trackerBytes, err := tracker.MarshalBinary()
	if err != nil {
		return err
	}
	payload := append(timeToBytes(time.Now()), trackerBytes...)
	if remain := p.Size - len(payload); remain > 0 {
		payload = append(payload, bytes.Repeat([]byte{1}, remain)...)
	}

	var typ icmp.Type = ipv4.ICMPTypeEcho
	if !isV4 {
		typ = ipv6.ICMPTypeEchoRequest
	}
	msg := &icmp.Message{
		Type: typ,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: 0, Data: payload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return err
	}
	_, err = conn.WriteTo(wire, dst)
	return err
}

func (p *ICMP) await(ctx context.Context, conn *icmp.PacketConn, tgt target.Target, id int, tracker uuid.UUID, isV4 bool) Outcome {
	deadline := time.Now().Add(p.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	proto := protocolICMP
	if !isV4 {
		proto = protocolIPv6ICMP
	}

	buf := make([]byte, 512+p.Size)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return failure(tgt, TypeICMP, StatusError)
		}
		n, _, err := conn.ReadFrom(buf)
		receivedAt := time.Now()
		if err != nil {
			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				return failure(tgt, TypeICMP, StatusTimeout)
			}
			logrus.Debugf("icmp %s: read failed: %v", tgt.Addr, err)
			return failure(tgt, TypeICMP, StatusError)
		}

		msg, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}

		switch msg.Type {
		case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
			echo, ok := msg.Body.(*icmp.Echo)
			if !ok || len(echo.Data) < timeSliceLength+trackerLength {
				continue
			}
			// Unprivileged sockets rewrite the echo ID, so replies are
			// matched on the tracker UUID embedded in the payload.
			if p.Privileged && echo.ID != id {
				continue
			}
			var got uuid.UUID
			if err := got.UnmarshalBinary(echo.Data[timeSliceLength : timeSliceLength+trackerLength]); err != nil || got != tracker {
				continue
			}
			sentAt := bytesToTime(echo.Data[:timeSliceLength])
			return success(tgt, TypeICMP, receivedAt.Sub(sentAt))
		case ipv4.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeDestinationUnreachable:
			return failure(tgt, TypeICMP, StatusUnreachable)
		}
	}
}

func timeToBytes(t time.Time) []byte {
	nsec := t.UnixNano()
	b := make([]byte, 8)
	for i := uint8(0); i < 8; i++ {
		b[i] = byte((nsec >> ((7 - i) * 8)) & 0xff)
	}
	return b
}

func bytesToTime(b []byte) time.Time {
	var nsec int64
	for i := uint8(0); i < 8; i++ {
		nsec += int64(b[i]) << ((7 - i) * 8)
	}
	return time.Unix(nsec/1000000000, nsec%1000000000)
}

var echoSeed int64 = time.Now().UnixNano()

// newEchoID returns a goroutine-safe pseudo-random echo identifier.
func newEchoID() int {
	r := rand.New(rand.NewSource(atomic.AddInt64(&echoSeed, 1)))
	return r.Intn(math.MaxUint16)
}
