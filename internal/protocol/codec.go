// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// byteOrder matches the spec's "native-endian" requirement; little-endian
// is what every machine this arbiter targets actually uses.
var byteOrder = binary.LittleEndian

// Encode serializes kind and payload into a single frame: an 8-byte kind
// tag followed by the payload's fields, with any variable-length array
// prefixed by its int32 element count as required by spec.md §6.
func Encode(kind Kind, payload any) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, byteOrder, uint64(kind)); err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case SetupRequest:
		writeInt32(&buf, p.PID)
	case Ack:
		writeUint64(&buf, p.SeqID)
	case ShutdownRequest:
		writeInt32(&buf, p.PID)
		writeFloat64(&buf, p.ClientShutdownHint)
	case AckShutdown:
		writeFloat64(&buf, p.SumShutdownHint)
		writeFloat64(&buf, p.SumShutdownHintDivTime)
		writeUint64(&buf, p.SeqID)
	case InvadeRequest:
		writeInt32(&buf, p.PID)
		writeInt32(&buf, p.MinCPUs)
		writeInt32(&buf, p.MaxCPUs)
		writeFloat64(&buf, p.DistributionHint)
		writeFloat64Slice(&buf, p.ScalabilityGraph)
	case InvadeAnswer:
		writeInt32(&buf, p.PID)
		writeUint64(&buf, p.SeqID)
		writeBool(&buf, p.AnythingChanged)
		writeInt32(&buf, p.NumberOfCores)
		writeInt32Slice(&buf, p.Affinity)
	case ReinvadeAckNonblocking:
		writeInt32(&buf, p.PID)
		writeInt32(&buf, p.NumberOfCores)
		writeInt32Slice(&buf, p.Affinity)
	case ReinvadeRequest:
		writeInt32(&buf, p.PID)
	case RetreatRequest:
		writeInt32(&buf, p.PID)
	case ServerShutdownSignal:
		// no payload
	default:
		return nil, fmt.Errorf("protocol: unsupported payload type %T for kind %s", payload, kind)
	}

	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode back into its kind and typed
// payload. The returned payload is one of the structs defined in
// messages.go, as an untyped any — callers type-switch on kind.
func Decode(frame []byte) (Kind, any, error) {
	if len(frame) < 8 {
		return 0, nil, fmt.Errorf("protocol: frame too short (%d bytes)", len(frame))
	}
	r := bytes.NewReader(frame)

	var rawKind uint64
	if err := binary.Read(r, byteOrder, &rawKind); err != nil {
		return 0, nil, err
	}
	kind := Kind(rawKind)

	switch kind {
	case KindClientSetup:
		pid, err := readInt32(r)
		return kind, SetupRequest{PID: pid}, err
	case KindServerAck:
		seq, err := readUint64(r)
		return kind, Ack{SeqID: seq}, err
	case KindClientShutdown:
		pid, err := readInt32(r)
		if err != nil {
			return kind, nil, err
		}
		hint, err := readFloat64(r)
		return kind, ShutdownRequest{PID: pid, ClientShutdownHint: hint}, err
	case KindClientAckShutdown:
		sum, err := readFloat64(r)
		if err != nil {
			return kind, nil, err
		}
		sumDivTime, err := readFloat64(r)
		if err != nil {
			return kind, nil, err
		}
		seq, err := readUint64(r)
		return kind, AckShutdown{SumShutdownHint: sum, SumShutdownHintDivTime: sumDivTime, SeqID: seq}, err
	case KindClientInvade, KindClientInvadeNonblocking:
		pid, err := readInt32(r)
		if err != nil {
			return kind, nil, err
		}
		minCPUs, err := readInt32(r)
		if err != nil {
			return kind, nil, err
		}
		maxCPUs, err := readInt32(r)
		if err != nil {
			return kind, nil, err
		}
		hint, err := readFloat64(r)
		if err != nil {
			return kind, nil, err
		}
		graph, err := readFloat64Slice(r)
		return kind, InvadeRequest{
			PID: pid, MinCPUs: minCPUs, MaxCPUs: maxCPUs,
			DistributionHint: hint, ScalabilityGraph: graph,
		}, err
	case KindServerInvadeAnswer, KindServerReinvadeNonblocking:
		pid, err := readInt32(r)
		if err != nil {
			return kind, nil, err
		}
		seq, err := readUint64(r)
		if err != nil {
			return kind, nil, err
		}
		changed, err := readBool(r)
		if err != nil {
			return kind, nil, err
		}
		n, err := readInt32(r)
		if err != nil {
			return kind, nil, err
		}
		affinity, err := readInt32Slice(r)
		return kind, InvadeAnswer{
			PID: pid, SeqID: seq, AnythingChanged: changed,
			NumberOfCores: n, Affinity: affinity,
		}, err
	case KindClientReinvadeAckNonblocking:
		pid, err := readInt32(r)
		if err != nil {
			return kind, nil, err
		}
		n, err := readInt32(r)
		if err != nil {
			return kind, nil, err
		}
		affinity, err := readInt32Slice(r)
		return kind, ReinvadeAckNonblocking{PID: pid, NumberOfCores: n, Affinity: affinity}, err
	case KindClientReinvade:
		pid, err := readInt32(r)
		return kind, ReinvadeRequest{PID: pid}, err
	case KindClientRetreat:
		pid, err := readInt32(r)
		return kind, RetreatRequest{PID: pid}, err
	case KindClientServerShutdown:
		return kind, ServerShutdownSignal{}, nil
	default:
		return kind, nil, fmt.Errorf("protocol: unknown message kind %d", rawKind)
	}
}

func writeInt32(buf *bytes.Buffer, v int32)     { _ = binary.Write(buf, byteOrder, v) }
func writeUint64(buf *bytes.Buffer, v uint64)   { _ = binary.Write(buf, byteOrder, v) }
func writeFloat64(buf *bytes.Buffer, v float64) { _ = binary.Write(buf, byteOrder, v) }
func writeBool(buf *bytes.Buffer, v bool)       { _ = binary.Write(buf, byteOrder, v) }

func writeInt32Slice(buf *bytes.Buffer, vs []int32) {
	writeInt32(buf, int32(len(vs)))
	for _, v := range vs {
		writeInt32(buf, v)
	}
}

func writeFloat64Slice(buf *bytes.Buffer, vs []float64) {
	writeInt32(buf, int32(len(vs)))
	for _, v := range vs {
		writeFloat64(buf, v)
	}
}

func readInt32(r *bytes.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, byteOrder, &v)
	return v, err
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, byteOrder, &v)
	return v, err
}

func readFloat64(r *bytes.Reader) (float64, error) {
	var v float64
	err := binary.Read(r, byteOrder, &v)
	return v, err
}

func readBool(r *bytes.Reader) (bool, error) {
	var v bool
	err := binary.Read(r, byteOrder, &v)
	return v, err
}

func readInt32Slice(r *bytes.Reader) ([]int32, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("protocol: negative array length %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	if int64(n)*4 > int64(r.Len()) {
		return nil, fmt.Errorf("protocol: array length %d exceeds %d bytes remaining in frame", n, r.Len())
	}
	out := make([]int32, n)
	for i := range out {
		v, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readFloat64Slice(r *bytes.Reader) ([]float64, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("protocol: negative array length %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	if int64(n)*8 > int64(r.Len()) {
		return nil, fmt.Errorf("protocol: array length %d exceeds %d bytes remaining in frame", n, r.Len())
	}
	out := make([]float64, n)
	for i := range out {
		v, err := readFloat64(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
