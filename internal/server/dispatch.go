package server

import (
	"github.com/ntbroker/wrtc-signal/internal/eventbus"
	"github.com/ntbroker/wrtc-signal/internal/metrics"
	"github.com/ntbroker/wrtc-signal/internal/protocol"
	"github.com/ntbroker/wrtc-signal/internal/signaling"
	"github.com/ntbroker/wrtc-signal/internal/validate"
)

// dispatch routes a decoded Frame to its handler. Unrecognized frames never
// reach here: protocol.Decode already turned them into a dropped *ErrDrop.
func (s *Server) dispatch(p *signaling.Peer, frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.JoinRoomFrame:
		s.handleJoinRoom(p, f)
	case protocol.LeaveRoomFrame:
		s.handleLeaveRoom(p)
	case protocol.UpdateDisplayNameFrame:
		s.handleUpdateDisplayName(p, f)
	case protocol.KnockFrame:
		s.handleKnock(p, f)
	case protocol.CustomFrame:
		s.handleCustom(p, f)
	case protocol.OfferFrame:
		s.handleOffer(p, f)
	case protocol.AnswerFrame:
		s.handleAnswer(p, f)
	case protocol.ICECandidateFrame:
		s.handleICECandidate(p, f)
	}
}

func (s *Server) handleJoinRoom(p *signaling.Peer, f protocol.JoinRoomFrame) {
	if f.DisplayName != nil {
		if _, _, err := p.UpdateDisplayName(*f.DisplayName); err != nil {
			p.SendError("Failed to update display name")
			return
		}
	}

	var candidatePassword string
	if f.Password != nil {
		candidatePassword = *f.Password
	}

	s.mu.Lock()
	room, exists := s.rooms[f.RoomID]
	isNewRoom := false

	if !exists {
		if s.cfg.RequireRoomPassword && candidatePassword == "" {
			s.mu.Unlock()
			p.SendError("Password is required to create a room")
			return
		}
		if s.cfg.MaxRoomsPerServer > 0 && len(s.rooms) >= s.cfg.MaxRoomsPerServer {
			n := len(s.rooms)
			s.mu.Unlock()
			p.SendError("Room limit reached")
			s.emit(eventbus.Event{Name: eventbus.RoomLimitReachedServer, Data: RoomLimitReachedData{
				RoomID: f.RoomID, CurrentRooms: n, MaxRooms: s.cfg.MaxRoomsPerServer,
			}})
			return
		}
		newRoom, err := signaling.NewRoom(f.RoomID, candidatePassword)
		if err != nil {
			s.mu.Unlock()
			p.SendError("Failed to create room")
			return
		}
		room = newRoom
		s.rooms[f.RoomID] = room
		isNewRoom = true
	} else {
		if room.HasPassword() && !room.VerifyPassword(candidatePassword) {
			s.mu.Unlock()
			p.Send(protocol.TypePasswordRequired, protocol.PasswordRequired{RoomID: f.RoomID})
			return
		}
		if s.cfg.MaxPeersPerRoom > 0 && room.Size() >= s.cfg.MaxPeersPerRoom {
			n := room.Size()
			s.mu.Unlock()
			p.SendError("Room is full")
			s.emit(eventbus.Event{Name: eventbus.PeerLimitReachedPerRoom, Data: PeerLimitReachedData{
				RoomID: f.RoomID, CurrentPeers: n, MaxPeers: s.cfg.MaxPeersPerRoom,
			}})
			return
		}
	}
	// The capacity check above and the membership mutation below must be
	// one critical section: keep holding s.mu across JoinRoom/AddPeer so a
	// concurrent joiner can't slip past the check, and so a concurrent
	// removePeerFromRoom can't delete this room out from under the join.
	joinErr := p.JoinRoom(f.RoomID)
	if joinErr == nil {
		if joinErr = room.AddPeer(p); joinErr != nil {
			_, _ = p.LeaveRoom()
		}
	}
	if joinErr != nil {
		if isNewRoom {
			delete(s.rooms, f.RoomID)
		}
		s.mu.Unlock()
		if isNewRoom {
			metrics.SetRooms(s.roomCount())
		}
		p.SendError("Failed to join room")
		return
	}
	s.mu.Unlock()

	if isNewRoom {
		metrics.SetRooms(s.roomCount())
		s.emit(eventbus.Event{Name: eventbus.RoomCreated, Data: RoomCreatedData{RoomID: f.RoomID}})
	}
	s.emit(eventbus.Event{Name: eventbus.PeerJoined, Data: PeerJoinedData{PeerID: p.ID(), RoomID: f.RoomID}})

	room.Broadcast(protocol.TypePeerJoined, protocol.PeerJoined{PeerID: p.ID(), DisplayName: p.DisplayName()}, p.ID())

	peers := make([]protocol.PeerInfo, 0, room.Size())
	for _, member := range room.Members() {
		if member.ID() == p.ID() {
			continue
		}
		peers = append(peers, protocol.PeerInfo{ID: member.ID(), DisplayName: member.DisplayName()})
	}
	p.Send(protocol.TypeRoomJoined, protocol.RoomJoined{RoomID: f.RoomID, DisplayName: p.DisplayName(), Peers: peers})
}

func (s *Server) handleLeaveRoom(p *signaling.Peer) {
	roomID, ok := s.removePeerFromRoom(p)
	if !ok {
		p.SendError("Failed to leave room")
		return
	}
	p.Send(protocol.TypeRoomLeft, protocol.RoomLeft{RoomID: roomID})
}

func (s *Server) handleUpdateDisplayName(p *signaling.Peer, f protocol.UpdateDisplayNameFrame) {
	newName, oldName, err := p.UpdateDisplayName(f.DisplayName)
	if err != nil {
		p.SendError("Failed to update display name")
		return
	}
	p.Send(protocol.TypeDisplayNameUpdated, protocol.DisplayNameUpdated{DisplayName: newName})

	if roomID, ok := p.RoomID(); ok {
		if room, ok := s.getRoom(roomID); ok {
			room.Broadcast(protocol.TypePeerUpdated, protocol.PeerUpdated{PeerID: p.ID(), DisplayName: newName}, p.ID())
		}
	}
	s.emit(eventbus.Event{Name: eventbus.PeerDisplayNameUpdated, Data: DisplayNameUpdatedData{
		PeerID: p.ID(), OldDisplayName: oldName, NewDisplayName: newName,
	}})
}

func (s *Server) handleKnock(p *signaling.Peer, f protocol.KnockFrame) {
	room, exists := s.getRoom(f.RoomID)
	if !exists {
		p.Send(protocol.TypeKnockResponse, protocol.KnockResponse{RoomID: f.RoomID})
		return
	}
	peerCount := room.Size()
	isFull := s.cfg.MaxPeersPerRoom > 0 && peerCount >= s.cfg.MaxPeersPerRoom
	p.Send(protocol.TypeKnockResponse, protocol.KnockResponse{
		RoomID:      f.RoomID,
		Exists:      true,
		HasPassword: room.HasPassword(),
		PeerCount:   peerCount,
		IsFull:      isFull,
	})
}

func (s *Server) handleCustom(p *signaling.Peer, f protocol.CustomFrame) {
	if err := validate.CustomType(f.CustomType); err != nil {
		p.SendError("Invalid custom type")
		return
	}

	targetType := ""
	var targetPeerID string
	if f.Target != nil {
		targetType = f.Target.Type
		targetPeerID = f.Target.PeerID
	}
	roomID, inRoom := p.RoomID()
	if targetType == "" {
		if !inRoom {
			p.SendError("Target is required when not in a room")
			return
		}
		targetType = "room"
	}

	msg := protocol.Custom{FromPeerID: p.ID(), CustomType: f.CustomType, Data: f.Data}

	switch targetType {
	case "peer":
		if targetPeerID == "" || !inRoom {
			p.SendError("Custom message target is invalid")
			return
		}
		room, ok := s.getRoom(roomID)
		if !ok {
			p.SendError("Custom message target is invalid")
			return
		}
		target, ok := room.GetPeer(targetPeerID)
		if !ok {
			p.SendError("Custom message target is invalid")
			return
		}
		target.Send(protocol.TypeCustom, msg)
	case "room":
		if !inRoom {
			p.SendError("Custom message target is invalid")
			return
		}
		room, ok := s.getRoom(roomID)
		if !ok {
			p.SendError("Custom message target is invalid")
			return
		}
		room.Broadcast(protocol.TypeCustom, msg, p.ID())
	default:
		p.SendError("Custom message target is invalid")
	}
}

func (s *Server) handleOffer(p *signaling.Peer, f protocol.OfferFrame) {
	target, ok := s.relayTarget(p, f.ToPeerID)
	if !ok {
		return
	}
	target.Send(protocol.TypeOffer, protocol.RelayedOffer{FromPeerID: p.ID(), ToPeerID: f.ToPeerID, Offer: f.Offer})
}

func (s *Server) handleAnswer(p *signaling.Peer, f protocol.AnswerFrame) {
	target, ok := s.relayTarget(p, f.ToPeerID)
	if !ok {
		return
	}
	target.Send(protocol.TypeAnswer, protocol.RelayedAnswer{FromPeerID: p.ID(), ToPeerID: f.ToPeerID, Answer: f.Answer})
}

func (s *Server) handleICECandidate(p *signaling.Peer, f protocol.ICECandidateFrame) {
	target, ok := s.relayTarget(p, f.ToPeerID)
	if !ok {
		return
	}
	target.Send(protocol.TypeICECandidate, protocol.RelayedICECandidate{FromPeerID: p.ID(), ToPeerID: f.ToPeerID, Candidate: f.Candidate})
}

// relayTarget resolves and validates the recipient of an OFFER/ANSWER/
// ICE_CANDIDATE frame: sender must be in a room, toPeerId must not be the
// sender, the room must exist, and the target must be a current member.
// Failures are silent, per spec: these frames never produce an ERROR.
func (s *Server) relayTarget(p *signaling.Peer, toPeerID string) (*signaling.Peer, bool) {
	if toPeerID == "" || toPeerID == p.ID() {
		return nil, false
	}
	roomID, ok := p.RoomID()
	if !ok {
		return nil, false
	}
	room, ok := s.getRoom(roomID)
	if !ok {
		return nil, false
	}
	target, ok := room.GetPeer(toPeerID)
	if !ok {
		return nil, false
	}
	return target, true
}

// removePeerFromRoom implements spec section 4.6's removePeerFromRoom: it
// clears the peer's room membership, removes it from the room, broadcasts
// PEER_LEFT to whoever remains, and — only after that broadcast — deletes
// an emptied room and announces room:removed. Returns false if the peer
// was not in a room.
func (s *Server) removePeerFromRoom(p *signaling.Peer) (string, bool) {
	roomID, err := p.LeaveRoom()
	if err != nil {
		return "", false
	}

	room, ok := s.getRoom(roomID)
	if !ok {
		return roomID, true
	}
	_ = room.RemovePeer(p.ID())

	room.Broadcast(protocol.TypePeerLeft, protocol.PeerLeft{PeerID: p.ID()})
	s.emit(eventbus.Event{Name: eventbus.PeerLeft, Data: PeerLeftData{PeerID: p.ID(), RoomID: roomID}})

	// Re-check membership under s.mu before deleting the registry entry: a
	// concurrent JOIN_ROOM holds s.mu across its own AddPeer, so testing
	// IsEmpty() here, under the lock, avoids deleting a room a joiner just
	// repopulated.
	s.mu.Lock()
	stillEmpty := s.rooms[roomID] == room && room.IsEmpty()
	if stillEmpty {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()
	if stillEmpty {
		metrics.SetRooms(s.roomCount())
		s.emit(eventbus.Event{Name: eventbus.RoomRemoved, Data: RoomRemovedData{RoomID: roomID}})
	}

	return roomID, true
}
