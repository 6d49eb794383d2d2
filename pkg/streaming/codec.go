package streaming

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// Vec3 is the wire form of a vector: [x, y, z].
type Vec3 [3]float64

// Quat is the wire form of a rotation: [x, y, z, w].
type Quat [4]float64

// WireVec converts a math vector to its wire form.
func WireVec(v mgl64.Vec3) Vec3 {
	return Vec3(v)
}

// Vec converts back to a math vector.
func (v Vec3) Vec() mgl64.Vec3 {
	return mgl64.Vec3(v)
}

// WireQuat converts a rotation to its wire form.
func WireQuat(q mgl64.Quat) Quat {
	return Quat{q.V[0], q.V[1], q.V[2], q.W}
}

// Quat converts back to a rotation. The zero value decodes as identity.
func (q Quat) Quat() mgl64.Quat {
	if q == (Quat{}) {
		return mgl64.QuatIdent()
	}
	return mgl64.Quat{W: q[3], V: mgl64.Vec3{q[0], q[1], q[2]}}
}

// WirePose splits a pose into wire position and rotation.
func WirePose(p core.Pose) (Vec3, Quat) {
	return WireVec(p.Position), WireQuat(p.Rotation)
}

// PoseOf joins a wire position and rotation.
func PoseOf(pos Vec3, rot Quat) core.Pose {
	return core.Pose{Position: pos.Vec(), Rotation: rot.Quat()}
}

// Codec serializes envelopes and their payloads. Every peer of a session
// and the relay must use the same codec.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default, human-readable codec.
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MsgpackCodec is the compact binary codec. It reuses the json struct tags
// so both codecs produce the same field names.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// CodecByName returns the codec for a config value. Empty means json.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}

// Seal encodes the payload of an outbound message into an envelope.
func Seal(c Codec, msg Message) (Envelope, error) {
	env := Envelope{
		Type:     msg.Type,
		To:       msg.To,
		Target:   msg.Target,
		Buffered: msg.Buffered,
		Key:      msg.Key,
	}
	if env.Target == "" {
		env.Target = TargetAll
	}
	if msg.Payload != nil {
		data, err := c.Marshal(msg.Payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encoding %s payload: %w", msg.Type, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Open decodes an envelope payload into T.
func Open[T any](c Codec, env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("empty %s payload", env.Type)
	}
	if err := c.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}
	return v, nil
}

// Encode serializes a whole envelope for the wire.
func Encode(c Codec, env Envelope) ([]byte, error) {
	data, err := c.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Type, err)
	}
	return data, nil
}

// Decode parses a wire frame into an envelope.
func Decode(c Codec, data []byte) (Envelope, error) {
	var env Envelope
	if err := c.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decoding envelope: missing type")
	}
	return env, nil
}
