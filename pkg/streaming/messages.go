package streaming

import (
	"encoding/json"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// Message type constants matching the session protocol.
const (
	TypeGrab               = "grab"
	TypeRelease            = "release"
	TypeAction             = "action"
	TypeSpawnAssign        = "spawn_assign"
	TypeSnapshotPush       = "snapshot_push"
	TypeSnapshotDone       = "snapshot_done"
	TypePoseSync           = "pose_sync"
	TypePresence           = "presence"
	TypeArbitrationRequest = "arbitration_request"
	TypeArbitrationResult  = "arbitration_result"
	TypeSellSnapshot       = "sell_snapshot"
	TypeDestroy            = "destroy"
	TypeWelcome            = "welcome"
	TypePeerJoined         = "peer_joined"
	TypePeerLeft           = "peer_left"
	TypeCoordinatorChanged = "coordinator_changed"
)

// Target selects the receivers of a message.
type Target string

const (
	TargetAll         Target = "all"
	TargetOthers      Target = "others"
	TargetActor       Target = "actor"
	TargetCoordinator Target = "coordinator"
)

// Envelope wraps all messages sent over the session channel.
// From is stamped by the relay with the sender's transport identity;
// anything a peer writes there is overwritten.
type Envelope struct {
	Type     string          `json:"type"`
	From     core.ActorID    `json:"from,omitempty"`
	To       core.ActorID    `json:"to,omitempty"`
	Target   Target          `json:"target,omitempty"`
	Buffered bool            `json:"buffered,omitempty"`
	Key      string          `json:"key,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// Replay is set by the relay on buffered messages it re-sends to a late
	// joiner. From then names the original sender, who may have left.
	Replay bool `json:"replay,omitempty"`
	// ByCoordinator is stamped by the relay: the sender was the session's
	// coordinator when the message was routed.
	ByCoordinator bool `json:"byCoordinator,omitempty"`
}

// Message is an outbound message before encoding.
type Message struct {
	Type    string
	Target  Target
	To      core.ActorID
	Payload any

	// Buffered messages are kept by the relay and replayed to late joiners.
	// A non-empty Key replaces the previously buffered message with the same key.
	Buffered bool
	Key      string
}

// Broadcast builds a message for every peer including the sender.
func Broadcast(typ string, payload any) Message {
	return Message{Type: typ, Target: TargetAll, Payload: payload}
}

// ToOthers builds a message for every peer except the sender.
func ToOthers(typ string, payload any) Message {
	return Message{Type: typ, Target: TargetOthers, Payload: payload}
}

// ToActor builds a message for a single peer.
func ToActor(actor core.ActorID, typ string, payload any) Message {
	return Message{Type: typ, Target: TargetActor, To: actor, Payload: payload}
}

// ToCoordinator builds a message for the current coordinator only.
func ToCoordinator(typ string, payload any) Message {
	return Message{Type: typ, Target: TargetCoordinator, Payload: payload}
}

// GrabPayload claims an object for an actor's hand.
type GrabPayload struct {
	ObjectID  core.ObjectID `json:"objectId"`
	Actor     core.ActorID  `json:"actor"`
	Hand      core.Hand     `json:"hand"`
	OffsetPos Vec3          `json:"offsetPos"`
	OffsetRot Quat          `json:"offsetRot"`
}

// ReleasePayload frees an object and launches it.
type ReleasePayload struct {
	ObjectID        core.ObjectID `json:"objectId"`
	Velocity        Vec3          `json:"velocity"`
	AngularVelocity Vec3          `json:"angularVelocity"`
}

// ActionPayload relays a discrete interaction from the holder.
type ActionPayload struct {
	ObjectID core.ObjectID   `json:"objectId"`
	Kind     core.ActionKind `json:"actionKind"`
	Value    float64         `json:"payload"`
}

// Spawn sources carried by SpawnAssignPayload.Source.
const (
	SourceVending = "vending"
	SourceLoot    = "loot"
	// SourceSpawnID marks a spawn a peer performs with a coordinator-issued ID.
	SourceSpawnID = "spawn_id"
)

// SpawnAssignPayload instantiates a coordinator-spawned object everywhere.
type SpawnAssignPayload struct {
	SpawnIndex int           `json:"spawnIndex"`
	ObjectID   core.ObjectID `json:"objectId"`
	Prefab     string        `json:"prefab"`
	Source     string        `json:"source,omitempty"`
	Position   Vec3          `json:"position"`
	Rotation   Quat          `json:"rotation"`
}

// SnapshotPushPayload brings a late joiner up to date on one object.
type SnapshotPushPayload struct {
	ObjectID        core.ObjectID `json:"objectId"`
	Position        Vec3          `json:"position"`
	Rotation        Quat          `json:"rotation"`
	Velocity        Vec3          `json:"velocity"`
	AngularVelocity Vec3          `json:"angularVelocity"`
	Kinematic       bool          `json:"kinematic"`
	HolderActor     core.ActorID  `json:"holderActor,omitempty"`
	Hand            core.Hand     `json:"hand,omitempty"`
	OffsetPos       Vec3          `json:"offsetPos"`
	OffsetRot       Quat          `json:"offsetRot"`
}

// SnapshotDonePayload ends a late-join snapshot set.
type SnapshotDonePayload struct {
	Objects int `json:"objects"`
}

// PoseSyncPayload is the holder's low-rate reconciliation of a held object's pose.
type PoseSyncPayload struct {
	ObjectID core.ObjectID `json:"objectId"`
	Position Vec3          `json:"position"`
	Rotation Quat          `json:"rotation"`
}

// PresencePayload carries a peer's avatar position for proximity checks.
type PresencePayload struct {
	Position Vec3 `json:"position"`
}

// RequestKind names an operation that needs single-writer arbitration.
type RequestKind string

const (
	RequestSpawnID  RequestKind = "spawn_id"
	RequestPurchase RequestKind = "purchase"
	RequestSell     RequestKind = "sell"
)

// Outcome of an arbitration.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeSettled  Outcome = "settled"
)

// ArbitrationParams is the union of request and result parameters.
type ArbitrationParams struct {
	ObjectIDs    []core.ObjectID `json:"objectIds,omitempty"`
	Button       int             `json:"button,omitempty"`
	CatalogIndex int             `json:"catalogIndex,omitempty"`
	Amount       int             `json:"amount,omitempty"`
	Prefab       string          `json:"prefab,omitempty"`
	// Sequence is the coordinator sequence number behind an issued ID.
	Sequence uint64 `json:"sequence,omitempty"`
}

// ArbitrationRequestPayload asks the coordinator to decide something once.
type ArbitrationRequestPayload struct {
	RequestID string            `json:"requestId"`
	Kind      RequestKind       `json:"requestKind"`
	Requester core.ActorID      `json:"requesterActor"`
	Params    ArbitrationParams `json:"params"`
}

// ArbitrationResultPayload is the coordinator's decision.
// Private results go only to the requester and carry per-actor side effects.
type ArbitrationResultPayload struct {
	RequestID string            `json:"requestId"`
	Kind      RequestKind       `json:"requestKind"`
	Requester core.ActorID      `json:"requesterActor"`
	Outcome   Outcome           `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
	Params    ArbitrationParams `json:"params"`
	Private   bool              `json:"private,omitempty"`
}

// SellSnapshotPayload is the observable state of the sell machine.
type SellSnapshotPayload struct {
	State         string       `json:"state"`
	CorrectButton int          `json:"correctButton"`
	Seller        core.ActorID `json:"seller,omitempty"`
	LastPayout    int          `json:"lastPayout"`
	Cycle         uint64       `json:"cycle"`
}

// DestroyPayload removes consumed objects everywhere.
type DestroyPayload struct {
	ObjectIDs []core.ObjectID `json:"objectIds"`
}

// WelcomePayload is sent by the relay to a peer right after it joins.
type WelcomePayload struct {
	Session     string         `json:"session"`
	Actor       core.ActorID   `json:"actor"`
	Coordinator core.ActorID   `json:"coordinator"`
	Peers       []core.ActorID `json:"peers"`
}

// PeerPayload announces a join or a leave.
type PeerPayload struct {
	Actor core.ActorID `json:"actor"`
}

// CoordinatorChangedPayload announces a coordinator election or migration.
type CoordinatorChangedPayload struct {
	Coordinator core.ActorID `json:"coordinator"`
}
