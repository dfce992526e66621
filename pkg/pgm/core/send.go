package core

import (
	"net"

	"github.com/jabolina/go-pgm/pkg/pgm/codec"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// sendDst returns the multicast destination for data/SPM traffic.
// Under UDP encapsulation that is the multicast encapsulation port,
// the port receivers bind their receive socket to.
func (t *Transport) sendDst() net.Addr {
	ip := t.info.SendGroup.Group
	if t.info.UsesUdpEncap() {
		return &net.UDPAddr{IP: ip, Port: int(t.info.UdpEncapMcastPort)}
	}
	return &net.IPAddr{IP: ip}
}

func (t *Transport) emitPacket(p types.Packet, useRouterAlert bool) *types.Error {
	raw, err := codec.Encode(p)
	if err != nil {
		return err
	}
	ctx, cancel := t.emitterContext()
	defer cancel()
	nonblocking := t.info.Caps.IsNonblocking
	useRate := p.Type == types.TypeODATA || p.Type == types.TypeRDATA
	_, sendErr := t.emitter.Send(ctx, useRate, useRouterAlert, nonblocking, raw, t.sendDst())
	return sendErr
}

// Send fragments apdu into TPDU-sized ODATA packets, pushes each into
// the transmit window, and emits them in order (spec §4.1 send,
// §3 APDU). On a nonblocking would-block partway through
// fragmentation, every sqn already assigned for this APDU is rolled
// back so the window never retains a partial APDU (spec §4.2 APDU
// EAGAIN rollback, testable property #3).
func (t *Transport) Send(apdu []byte) *types.Error {
	t.mu.Lock()
	live := t.requireLive()
	bound := t.requireBound()
	canSend := t.info.Caps.CanSendData
	maxApdu := t.info.MaxApdu(t.info.TxwSqns)
	fragSize := t.info.MaxTsduFragment()
	t.mu.Unlock()
	if live != nil {
		return live
	}
	if bound != nil {
		return bound
	}
	if !canSend {
		return types.BadState("endpoint is not configured to send data")
	}
	if len(apdu) == 0 {
		return types.Invalid("apdu must be non-empty")
	}
	if len(apdu) > maxApdu {
		return types.Invalid("apdu length %d exceeds max_apdu %d", len(apdu), maxApdu)
	}

	firstSqn := t.txw.NextSqn()
	t.mu.Lock()
	t.pendingFirst = firstSqn
	t.isApduEagain = true
	t.mu.Unlock()

	offset := 0
	for offset < len(apdu) {
		end := offset + fragSize
		if end > len(apdu) {
			end = len(apdu)
		}
		chunk := apdu[offset:end]
		fragOpt := &types.OptionFragment{
			FirstSqn:       firstSqn,
			FragmentOffset: uint32(offset),
			ApduLength:     uint32(len(apdu)),
		}

		sqn, werr := t.txw.Push(chunk, fragOpt)
		if werr != nil {
			t.rollbackApdu(firstSqn)
			return werr
		}

		pkt := types.Packet{
			Header:  types.Header{SourcePort: t.info.TSI.SourcePort, DestinationPort: t.info.DestinationPort, GlobalSourceID: t.info.TSI.GlobalSourceID, Type: types.TypeODATA, TSDULength: uint16(len(chunk))},
			Type:    types.TypeODATA,
			Data:    &types.DataBody{Sqn: sqn, TrailSqn: t.txw.Trail(), Payload: chunk},
			Options: []types.Option{{Type: types.OptFragment, Fragment: fragOpt}},
		}
		if err := t.emitPacket(pkt, false); err != nil {
			if types.IsWouldBlock(err) {
				t.rollbackApdu(firstSqn)
			}
			return err
		}
		offset = end
	}

	t.mu.Lock()
	t.isApduEagain = false
	t.mu.Unlock()
	return nil
}

func (t *Transport) rollbackApdu(firstSqn types.Sqn) {
	t.txw.RollbackTo(firstSqn)
	t.mu.Lock()
	t.isApduEagain = false
	t.mu.Unlock()
}

// sendSpm emits an ambient or heartbeat source-path message carrying
// the current lead/trail (spec §4.6).
func (t *Transport) sendSpm() *types.Error {
	lead, trail := types.Sqn(0), types.Sqn(0)
	if t.txw != nil {
		lead, trail = t.txw.Lead(), t.txw.Trail()
	}
	pkt := types.Packet{
		Header: types.Header{SourcePort: t.info.TSI.SourcePort, DestinationPort: t.info.DestinationPort, GlobalSourceID: t.info.TSI.GlobalSourceID, Type: types.TypeSPM},
		Type:   types.TypeSPM,
		Spm:    &types.SpmBody{Sqn: lead, TrailSqn: trail},
	}
	return t.emitPacket(pkt, false)
}

// EmitNak implements peer.NakEmitter: it requests retransmission of
// sqn from the source named by tsi, over the router-alert socket so
// PGM-aware routers can snoop and aggregate the request (spec §4.4,
// §6 NAK packet).
func (t *Transport) EmitNak(tsi types.TSI, sqn types.Sqn) *types.Error {
	if !t.info.Caps.CanSendNak {
		return types.BadState("endpoint is not configured to send naks")
	}
	pkt := types.Packet{
		Header: types.Header{SourcePort: t.info.TSI.SourcePort, DestinationPort: t.info.DestinationPort, GlobalSourceID: tsi.GlobalSourceID, Type: types.TypeNAK},
		Type:   types.TypeNAK,
		Nak:    &types.NakBody{Sqn: sqn},
	}
	return t.emitPacket(pkt, true)
}

// sendNcf acknowledges a received NAK back to the requesting peer's
// group, confirming the source accepted the retransmission request
// (spec §6 NCF).
func (t *Transport) sendNcf(sqn types.Sqn) *types.Error {
	pkt := types.Packet{
		Header: types.Header{SourcePort: t.info.TSI.SourcePort, DestinationPort: t.info.DestinationPort, GlobalSourceID: t.info.TSI.GlobalSourceID, Type: types.TypeNCF},
		Type:   types.TypeNCF,
		Ncf:    &types.NcfBody{Sqn: sqn},
	}
	return t.emitPacket(pkt, true)
}

// retransmit resends a previously pushed entry as RDATA after
// receiving a NAK for it (spec §4.2 retransmit).
func (t *Transport) retransmit(sqn types.Sqn) *types.Error {
	if t.txw == nil {
		return types.BadState("endpoint has no transmit window")
	}
	e, ok := t.txw.Retransmit(sqn)
	if !ok {
		return types.Resource(nil, "sqn %d no longer retained", sqn)
	}
	pkt := types.Packet{
		Header: types.Header{SourcePort: t.info.TSI.SourcePort, DestinationPort: t.info.DestinationPort, GlobalSourceID: t.info.TSI.GlobalSourceID, Type: types.TypeRDATA, TSDULength: uint16(len(e.Payload))},
		Type:   types.TypeRDATA,
		Data:   &types.DataBody{Sqn: e.Sqn, TrailSqn: e.TrailAtSend, IsParity: e.IsParity, TgSqn: e.TgSqn, ParityIdx: e.ParityIdx, Payload: e.Payload},
	}
	if e.Fragment != nil {
		pkt.Options = []types.Option{{Type: types.OptFragment, Fragment: e.Fragment}}
	}
	return t.emitPacket(pkt, false)
}
