package meshpb

import "google.golang.org/protobuf/encoding/protowire"

// Data is the decoded application payload of a MeshPacket.
type Data struct {
	PortNum   PortNum
	Payload   []byte
	WantResp  bool
	RequestID uint32
	ReplyID   uint32
}

func (d *Data) Marshal() []byte {
	var b []byte
	b = appendUvarintField(b, 1, uint64(d.PortNum))
	b = appendBytesField(b, 2, d.Payload)
	b = appendBoolField(b, 3, d.WantResp)
	b = appendUvarintField(b, 6, uint64(d.RequestID))
	b = appendUvarintField(b, 7, uint64(d.ReplyID))
	return b
}

func (d *Data) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fieldError("Data", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("Data.portnum", protowire.ParseError(n))
			}
			d.PortNum = PortNum(v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("Data.payload", protowire.ParseError(n))
			}
			d.Payload = append([]byte(nil), v...)
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("Data.want_response", protowire.ParseError(n))
			}
			d.WantResp = v != 0
			b = b[n:]
		case 6:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("Data.request_id", protowire.ParseError(n))
			}
			d.RequestID = uint32(v)
			b = b[n:]
		case 7:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("Data.reply_id", protowire.ParseError(n))
			}
			d.ReplyID = uint32(v)
			b = b[n:]
		default:
			n, err := consumeUnknown(num, typ, b)
			if err != nil {
				return fieldError("Data", err)
			}
			b = b[n:]
		}
	}
	return nil
}

// MeshPacket is the envelope carried in both directions between the
// gateway and the radio: outbound as ToRadio.packet, inbound as
// FromRadio.packet.
type MeshPacket struct {
	From     uint32
	To       uint32
	Channel  uint32
	Decoded  *Data
	ID       uint32
	HopLimit uint32
	WantAck  bool
	Priority uint32
}

func (p *MeshPacket) Marshal() []byte {
	var b []byte
	b = appendUvarintField(b, 1, uint64(p.From))
	b = appendUvarintField(b, 2, uint64(p.To))
	b = appendUvarintField(b, 3, uint64(p.Channel))
	if p.Decoded != nil {
		b = appendMessageField(b, 4, p.Decoded.Marshal())
	}
	b = appendUvarintField(b, 6, uint64(p.ID))
	b = appendUvarintField(b, 8, uint64(p.HopLimit))
	b = appendBoolField(b, 9, p.WantAck)
	b = appendUvarintField(b, 10, uint64(p.Priority))
	return b
}

func (p *MeshPacket) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fieldError("MeshPacket", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("MeshPacket.from", protowire.ParseError(n))
			}
			p.From = uint32(v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("MeshPacket.to", protowire.ParseError(n))
			}
			p.To = uint32(v)
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("MeshPacket.channel", protowire.ParseError(n))
			}
			p.Channel = uint32(v)
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("MeshPacket.decoded", protowire.ParseError(n))
			}
			d := &Data{}
			if err := d.Unmarshal(v); err != nil {
				return err
			}
			p.Decoded = d
			b = b[n:]
		case 6:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("MeshPacket.id", protowire.ParseError(n))
			}
			p.ID = uint32(v)
			b = b[n:]
		case 8:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("MeshPacket.hop_limit", protowire.ParseError(n))
			}
			p.HopLimit = uint32(v)
			b = b[n:]
		case 9:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("MeshPacket.want_ack", protowire.ParseError(n))
			}
			p.WantAck = v != 0
			b = b[n:]
		case 10:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("MeshPacket.priority", protowire.ParseError(n))
			}
			p.Priority = uint32(v)
			b = b[n:]
		default:
			n, err := consumeUnknown(num, typ, b)
			if err != nil {
				return fieldError("MeshPacket", err)
			}
			b = b[n:]
		}
	}
	return nil
}

// ToRadio is the outbound envelope: exactly one of Packet, WantConfigID, or
// Heartbeat is set.
type ToRadio struct {
	Packet       *MeshPacket
	WantConfigID uint32
	Heartbeat    bool
}

func (t *ToRadio) Marshal() []byte {
	var b []byte
	if t.Packet != nil {
		b = appendMessageField(b, 1, t.Packet.Marshal())
	}
	b = appendUvarintField(b, 3, uint64(t.WantConfigID))
	b = appendBoolField(b, 7, t.Heartbeat)
	return b
}

func (t *ToRadio) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fieldError("ToRadio", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("ToRadio.packet", protowire.ParseError(n))
			}
			p := &MeshPacket{}
			if err := p.Unmarshal(v); err != nil {
				return err
			}
			t.Packet = p
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("ToRadio.want_config_id", protowire.ParseError(n))
			}
			t.WantConfigID = uint32(v)
			b = b[n:]
		case 7:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("ToRadio.heartbeat", protowire.ParseError(n))
			}
			t.Heartbeat = v != 0
			b = b[n:]
		default:
			n, err := consumeUnknown(num, typ, b)
			if err != nil {
				return fieldError("ToRadio", err)
			}
			b = b[n:]
		}
	}
	return nil
}

// MyInfo announces the radio's own node number, received once at startup.
type MyInfo struct {
	MyNodeNum uint32
}

func (m *MyInfo) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fieldError("MyInfo", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("MyInfo.my_node_num", protowire.ParseError(n))
			}
			m.MyNodeNum = uint32(v)
			b = b[n:]
		default:
			n, err := consumeUnknown(num, typ, b)
			if err != nil {
				return fieldError("MyInfo", err)
			}
			b = b[n:]
		}
	}
	return nil
}

// User carries a node's advertised identity.
type User struct {
	ID        string
	LongName  string
	ShortName string
}

func (u *User) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fieldError("User", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fieldError("User.id", protowire.ParseError(n))
			}
			u.ID = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fieldError("User.long_name", protowire.ParseError(n))
			}
			u.LongName = v
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fieldError("User.short_name", protowire.ParseError(n))
			}
			u.ShortName = v
			b = b[n:]
		default:
			n, err := consumeUnknown(num, typ, b)
			if err != nil {
				return fieldError("User", err)
			}
			b = b[n:]
		}
	}
	return nil
}

// NodeInfo is the periodic node-database advertisement used both during
// initial sync and for live node discovery.
type NodeInfo struct {
	Num  uint32
	User *User
}

func (ni *NodeInfo) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fieldError("NodeInfo", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("NodeInfo.num", protowire.ParseError(n))
			}
			ni.Num = uint32(v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("NodeInfo.user", protowire.ParseError(n))
			}
			u := &User{}
			if err := u.Unmarshal(v); err != nil {
				return err
			}
			ni.User = u
			b = b[n:]
		default:
			n, err := consumeUnknown(num, typ, b)
			if err != nil {
				return fieldError("NodeInfo", err)
			}
			b = b[n:]
		}
	}
	return nil
}

// Config and ModuleConfig are opaque from the gateway's perspective: their
// mere arrival during initial sync is what the reader's initial-sync
// tracking records, so no fields are decoded.
type Config struct{}

func (c *Config) Unmarshal([]byte) error { return nil }

type ModuleConfig struct{}

func (m *ModuleConfig) Unmarshal([]byte) error { return nil }

// QueueStatus reports the radio's own outbound queue depth.
type QueueStatus struct {
	Res          int32
	Free         uint32
	MaxLen       uint32
	MeshPacketID uint32
}

func (q *QueueStatus) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fieldError("QueueStatus", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("QueueStatus.res", protowire.ParseError(n))
			}
			q.Res = int32(v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("QueueStatus.free", protowire.ParseError(n))
			}
			q.Free = uint32(v)
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("QueueStatus.maxlen", protowire.ParseError(n))
			}
			q.MaxLen = uint32(v)
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("QueueStatus.mesh_packet_id", protowire.ParseError(n))
			}
			q.MeshPacketID = uint32(v)
			b = b[n:]
		default:
			n, err := consumeUnknown(num, typ, b)
			if err != nil {
				return fieldError("QueueStatus", err)
			}
			b = b[n:]
		}
	}
	return nil
}

// Routing is the payload of a Data message on PortRouting: either an
// explicit ACK (ErrorReason == RoutingErrorNone) or a delivery failure.
type Routing struct {
	ErrorReason RoutingError
}

func (r *Routing) Marshal() []byte {
	var b []byte
	b = appendUvarintField(b, 2, uint64(r.ErrorReason))
	return b
}

func (r *Routing) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fieldError("Routing", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("Routing.error_reason", protowire.ParseError(n))
			}
			r.ErrorReason = RoutingError(v)
			b = b[n:]
		default:
			n, err := consumeUnknown(num, typ, b)
			if err != nil {
				return fieldError("Routing", err)
			}
			b = b[n:]
		}
	}
	return nil
}

// FromRadio is the inbound envelope: exactly one payload field is set per
// message, mirroring the real firmware's oneof.
type FromRadio struct {
	Packet            *MeshPacket
	MyInfo            *MyInfo
	NodeInfo          *NodeInfo
	Config            *Config
	ModuleConfig      *ModuleConfig
	ConfigCompleteID  uint32
	HasConfigComplete bool
	QueueStatus       *QueueStatus
}

func (f *FromRadio) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fieldError("FromRadio", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("FromRadio.packet", protowire.ParseError(n))
			}
			p := &MeshPacket{}
			if err := p.Unmarshal(v); err != nil {
				return err
			}
			f.Packet = p
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("FromRadio.my_info", protowire.ParseError(n))
			}
			m := &MyInfo{}
			if err := m.Unmarshal(v); err != nil {
				return err
			}
			f.MyInfo = m
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("FromRadio.node_info", protowire.ParseError(n))
			}
			ni := &NodeInfo{}
			if err := ni.Unmarshal(v); err != nil {
				return err
			}
			f.NodeInfo = ni
			b = b[n:]
		case 5:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("FromRadio.config", protowire.ParseError(n))
			}
			c := &Config{}
			if err := c.Unmarshal(v); err != nil {
				return err
			}
			f.Config = c
			b = b[n:]
		case 7:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("FromRadio.config_complete_id", protowire.ParseError(n))
			}
			f.ConfigCompleteID = uint32(v)
			f.HasConfigComplete = true
			b = b[n:]
		case 9:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("FromRadio.module_config", protowire.ParseError(n))
			}
			mc := &ModuleConfig{}
			if err := mc.Unmarshal(v); err != nil {
				return err
			}
			f.ModuleConfig = mc
			b = b[n:]
		case 10:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("FromRadio.queue_status", protowire.ParseError(n))
			}
			qs := &QueueStatus{}
			if err := qs.Unmarshal(v); err != nil {
				return err
			}
			f.QueueStatus = qs
			b = b[n:]
		default:
			n, err := consumeUnknown(num, typ, b)
			if err != nil {
				return fieldError("FromRadio", err)
			}
			b = b[n:]
		}
	}
	return nil
}
