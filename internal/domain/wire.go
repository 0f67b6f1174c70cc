package domain

import (
	"encoding/json"
	"slices"
)

// SchemaVersion is the handoff packet schema version written by this engine.
const SchemaVersion = "1.0.0"

// SupportedSchemaVersions lists the packet versions DecodePacket accepts.
// Other versions are rejected; there is no silent upgrade.
var SupportedSchemaVersions = []string{SchemaVersion}

// EncodePacket serializes a packet to its wire form.
func EncodePacket(p *HandoffPacket) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, ErrPacketMalformed.Wrap(err, "encode packet")
	}
	return data, nil
}

// DecodePacket parses a wire-form packet, rejecting unsupported schema versions
// and packets whose phase bookkeeping is inconsistent.
func DecodePacket(data []byte) (*HandoffPacket, error) {
	var head struct {
		SchemaVersion string `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, ErrPacketMalformed.Wrap(err, "decode packet")
	}
	if !slices.Contains(SupportedSchemaVersions, head.SchemaVersion) {
		return nil, ErrSchemaVersionMismatch.Withf("schema version %q is not supported (want one of %v)", head.SchemaVersion, SupportedSchemaVersions)
	}

	var p HandoffPacket
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrPacketMalformed.Wrap(err, "decode packet")
	}
	if p.TraceID == "" {
		return nil, ErrPacketMalformed.Withf("packet has no traceId")
	}
	if err := p.CheckPhaseInvariant(); err != nil {
		return nil, err
	}
	if p.SMEReviews == nil {
		p.SMEReviews = SMEReviews{}
	}
	if p.Metadata.ModelsUsed == nil {
		p.Metadata.ModelsUsed = map[Phase]string{}
	}
	if p.Metadata.PhaseDurations == nil {
		p.Metadata.PhaseDurations = map[Phase]int64{}
	}
	return &p, nil
}
