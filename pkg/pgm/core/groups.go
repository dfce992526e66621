package core

import (
	"net"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// JoinGroup adds a receive group-source request, deduplicated by
// (group, source, interface), and joins it immediately if already
// bound (spec §4.1 join_group/join_source_group).
func (t *Transport) JoinGroup(req types.GroupSourceRequest) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireLive(); err != nil {
		return err
	}
	updated, dup := types.DedupGroupSourceRequests(t.recvGroups, req)
	if dup {
		return nil
	}
	if len(updated) > types.MaxGroupSourceRequests {
		return types.Invalid("group-source requests would exceed max %d", types.MaxGroupSourceRequests)
	}
	if t.isBound {
		if err := t.sockets.JoinGroup(req); err != nil {
			return err
		}
	}
	t.recvGroups = updated
	return nil
}

// LeaveGroup removes matching receive group-source requests and
// leaves the group on the socket if bound (spec §4.1 leave_group).
func (t *Transport) LeaveGroup(group net.IP, ifaceIndex int, ifaceSet bool) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireLive(); err != nil {
		return err
	}
	if t.isBound {
		req := types.GroupSourceRequest{Group: group, InterfaceIndex: ifaceIndex}
		if err := t.sockets.LeaveGroup(req); err != nil {
			return err
		}
	}
	t.recvGroups = types.RemoveGroupSourceRequests(t.recvGroups, group, ifaceIndex, ifaceSet)
	return nil
}

// JoinSourceGroup is JoinGroup specialized for SSM, requiring Source
// to be set (spec §4.1 join_source_group).
func (t *Transport) JoinSourceGroup(group, source net.IP, ifaceIndex int) *types.Error {
	if source == nil {
		return types.Invalid("join_source_group requires a source address")
	}
	return t.JoinGroup(types.GroupSourceRequest{Group: group, Source: source, InterfaceIndex: ifaceIndex})
}

// LeaveSourceGroup removes the matching (group, source, interface)
// receive request from the endpoint's list. It issues no socket leave,
// so a membership already joined on the socket stays in place.
func (t *Transport) LeaveSourceGroup(group, source net.IP, ifaceIndex int) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireLive(); err != nil {
		return err
	}
	out := t.recvGroups[:0:0]
	for _, g := range t.recvGroups {
		if g.Group.Equal(group) && g.Source.Equal(source) && g.InterfaceIndex == ifaceIndex {
			continue
		}
		out = append(out, g)
	}
	t.recvGroups = out
	return nil
}

// BlockSource and UnblockSource accept a source to block or unblock on
// an already-joined ASM group (spec §4.1 block_source/unblock_source)
// and only log the request: no socket filter option is issued, so no
// source is filtered.
func (t *Transport) BlockSource(group, source net.IP) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireLive(); err != nil {
		return err
	}
	t.log.Debugf("pgm: block source %s on group %s (filtering handled at msfilter level)", source, group)
	return nil
}

func (t *Transport) UnblockSource(group, source net.IP) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireLive(); err != nil {
		return err
	}
	t.log.Debugf("pgm: unblock source %s on group %s", source, group)
	return nil
}

// Msfilter replaces the full source filter list for a group in one
// call (spec §6 msfilter), built by repeated JoinSourceGroup calls.
func (t *Transport) Msfilter(group net.IP, sources []net.IP, ifaceIndex int) *types.Error {
	if err := t.LeaveGroup(group, ifaceIndex, true); err != nil {
		return err
	}
	for _, src := range sources {
		if err := t.JoinSourceGroup(group, src, ifaceIndex); err != nil {
			return err
		}
	}
	return nil
}

// ReadinessInfo is the software descriptor set standing in for the
// select_info/poll_info/epoll_ctl file-descriptor exposition (spec
// §4.1): a channel signaling pending deliveries. RecvFd is always -1;
// no raw socket descriptor is exposed.
type ReadinessInfo struct {
	Deliveries <-chan Delivery
	RecvFd     int
}

// SelectInfo returns the delivery channel an application embedding the
// endpoint in its own event loop can wait on, in place of the
// descriptors select_info/poll_info/epoll_ctl would hand it.
func (t *Transport) SelectInfo() (ReadinessInfo, *types.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireBound(); err != nil {
		return ReadinessInfo{}, err
	}
	return ReadinessInfo{Deliveries: t.deliveries, RecvFd: -1}, nil
}
