// Package events enumerates the realtime event surface (spec.md §6.2) and the envelope
// published through the EventBus to subscribed connections.
//
// It stands in for the teacher's external uncord-protocol/events package, which is not vendored
// into this module; Kind and Envelope play the same role the dispatch-event string and envelope
// struct play there.
package events

// Kind identifies a realtime event. Server-to-client kinds are emitted by services through the
// EventBus; client-to-server kinds are accepted from a connection's read pump.
type Kind string

// Server -> client.
const (
	KindMessageNew              Kind = "message:new"
	KindMessageDeleted          Kind = "message:deleted"
	KindMessageReactionAdded    Kind = "message:reaction:added"
	KindMessageReactionRemoved  Kind = "message:reaction:removed"
	KindMessagePinned           Kind = "message:pinned"
	KindMessageUnpinned         Kind = "message:unpinned"
	KindDMNew                   Kind = "dm:new"
	KindDMEncrypted             Kind = "dm:encrypted"
	KindDMReactionAdded         Kind = "dm:reaction:added"
	KindDMReactionRemoved       Kind = "dm:reaction:removed"
	KindDMCleared               Kind = "dm:cleared"
	KindDMBlocked               Kind = "dm:blocked"
	KindDMDisappearProposed     Kind = "dm:disappear:proposed"
	KindDMDisappearEnabled      Kind = "dm:disappear:enabled"
	KindDMDisappearDisabled     Kind = "dm:disappear:disabled"
	KindDMExpired               Kind = "dm:expired"
	KindMemberJoined            Kind = "member:joined"
	KindMemberLeft              Kind = "member:left"
	KindMemberRemoved           Kind = "member:removed"
	KindMemberRoleChanged       Kind = "member:roleChanged"
	KindGroupCreated            Kind = "group:created"
	KindGroupUpdated            Kind = "group:updated"
	KindGroupDeleted            Kind = "group:deleted"
	KindGroupPermissionsUpdated Kind = "group:permissionsUpdated"
	KindAgentOnline             Kind = "agent:online"
	KindAgentOffline            Kind = "agent:offline"
	KindTypingStart             Kind = "typing:start"
	KindTypingStop              Kind = "typing:stop"
)

// Client -> server.
const (
	KindGroupJoin  Kind = "group:join"
	KindGroupLeave Kind = "group:leave"
)

// Envelope is the JSON structure published to the gateway events channel and forwarded verbatim
// to subscribed connections.
type Envelope struct {
	Kind Kind `json:"t"`
	Data any  `json:"d"`
}
