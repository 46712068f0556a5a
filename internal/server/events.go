package server

// Event payload shapes delivered via eventbus.Event.Data for each event
// name in the eventbus package. Embedders type-assert on these.

// PeerConnectedData accompanies eventbus.PeerConnected.
type PeerConnectedData struct {
	PeerID string
}

// PeerJoinedData accompanies eventbus.PeerJoined.
type PeerJoinedData struct {
	PeerID string
	RoomID string
}

// PeerLeftData accompanies eventbus.PeerLeft.
type PeerLeftData struct {
	PeerID string
	RoomID string
}

// PeerDisconnectedData accompanies eventbus.PeerDisconnected.
type PeerDisconnectedData struct {
	PeerID string
}

// PeerTimeoutData accompanies eventbus.PeerTimeout.
type PeerTimeoutData struct {
	PeerID string
}

// DisplayNameUpdatedData accompanies eventbus.PeerDisplayNameUpdated.
type DisplayNameUpdatedData struct {
	PeerID            string
	OldDisplayName    string
	NewDisplayName    string
}

// PeerLimitReachedData accompanies eventbus.PeerLimitReachedPerRoom.
type PeerLimitReachedData struct {
	RoomID       string
	CurrentPeers int
	MaxPeers     int
}

// RoomCreatedData accompanies eventbus.RoomCreated.
type RoomCreatedData struct {
	RoomID string
}

// RoomRemovedData accompanies eventbus.RoomRemoved.
type RoomRemovedData struct {
	RoomID string
}

// RoomLimitReachedData accompanies eventbus.RoomLimitReachedServer.
type RoomLimitReachedData struct {
	RoomID       string
	CurrentRooms int
	MaxRooms     int
}

// ServerErrorData accompanies eventbus.ServerError.
type ServerErrorData struct {
	Err error
}
