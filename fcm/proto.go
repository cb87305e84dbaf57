package fcm

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Hand-rolled encodings of the few checkin.proto and mcs.proto messages the
// transport needs. Field numbers follow Chromium's gcm protos.

// field is one decoded protobuf field. Scalar values land in val, length
// delimited values in raw.
type field struct {
	num protowire.Number
	typ protowire.Type
	val uint64
	raw []byte
}

func (f field) str() string { return string(f.raw) }

// eachField walks the top-level fields of a serialized message.
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.val, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.val, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.val = uint64(v)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendFixed64(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

// Checkin device types and Chrome build enums.
const (
	deviceChromeBrowser = 3

	PlatformWindows = 1
	PlatformMac     = 2
	PlatformLinux   = 3

	ChannelStable = 1
	ChannelBeta   = 2
	ChannelDev    = 3
)

// checkinRequest is AndroidCheckinRequest.
type checkinRequest struct {
	ID               uint64 // 2
	Checkin          checkinProto
	SecurityToken    uint64 // 13, fixed64
	Version          int32  // 14
	UserSerialNumber int32  // 22
}

// checkinProto is AndroidCheckinProto.
type checkinProto struct {
	Type        int32 // 12
	ChromeBuild ChromeBuild
}

func (r *checkinRequest) marshal() []byte {
	var build []byte
	build = appendVarint(build, 1, uint64(r.Checkin.ChromeBuild.Platform))
	build = appendString(build, 2, r.Checkin.ChromeBuild.ChromeVersion)
	build = appendVarint(build, 3, uint64(r.Checkin.ChromeBuild.Channel))

	var checkin []byte
	checkin = appendVarint(checkin, 12, uint64(r.Checkin.Type))
	checkin = appendBytes(checkin, 13, build)

	var b []byte
	if r.ID != 0 {
		b = appendVarint(b, 2, r.ID)
	}
	b = appendBytes(b, 4, checkin)
	if r.SecurityToken != 0 {
		b = appendFixed64(b, 13, r.SecurityToken)
	}
	b = appendVarint(b, 14, uint64(r.Version))
	b = appendVarint(b, 22, uint64(r.UserSerialNumber))
	return b
}

func (r *checkinRequest) unmarshal(b []byte) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 2:
			r.ID = f.val
		case 4:
			return eachField(f.raw, func(f field) error {
				switch f.num {
				case 12:
					r.Checkin.Type = int32(f.val)
				case 13:
					return r.Checkin.ChromeBuild.unmarshal(f.raw)
				}
				return nil
			})
		case 13:
			r.SecurityToken = f.val
		case 14:
			r.Version = int32(f.val)
		case 22:
			r.UserSerialNumber = int32(f.val)
		}
		return nil
	})
}

func (c *ChromeBuild) unmarshal(b []byte) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			c.Platform = int32(f.val)
		case 2:
			c.ChromeVersion = f.str()
		case 3:
			c.Channel = int32(f.val)
		}
		return nil
	})
}

// checkinResponse is AndroidCheckinResponse.
type checkinResponse struct {
	StatsOK       bool   // 1
	AndroidID     uint64 // 7, fixed64
	SecurityToken uint64 // 8, fixed64
}

func (r *checkinResponse) marshal() []byte {
	var b []byte
	b = appendBool(b, 1, r.StatsOK)
	b = appendFixed64(b, 7, r.AndroidID)
	b = appendFixed64(b, 8, r.SecurityToken)
	return b
}

func (r *checkinResponse) unmarshal(b []byte) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			r.StatsOK = f.val != 0
		case 7:
			r.AndroidID = f.val
		case 8:
			r.SecurityToken = f.val
		}
		return nil
	})
}

// loginRequest is mcs.proto LoginRequest.
type loginRequest struct {
	ID                   string // 1
	Domain               string // 2
	User                 string // 3
	Resource             string // 4
	AuthToken            string // 5
	DeviceID             string // 6
	LastRmqID            int64  // 7
	Settings             map[string]string
	ReceivedPersistentID []string // 10
	AdaptiveHeartbeat    bool     // 12
	UseRmq2              bool     // 14
	AuthService          int32    // 16
	NetworkType          int32    // 17
}

const authServiceAndroidID = 2

func (r *loginRequest) marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.ID)
	b = appendString(b, 2, r.Domain)
	b = appendString(b, 3, r.User)
	b = appendString(b, 4, r.Resource)
	b = appendString(b, 5, r.AuthToken)
	b = appendString(b, 6, r.DeviceID)
	b = appendVarint(b, 7, uint64(r.LastRmqID))
	for name, value := range r.Settings {
		var s []byte
		s = appendString(s, 1, name)
		s = appendString(s, 2, value)
		b = appendBytes(b, 8, s)
	}
	for _, id := range r.ReceivedPersistentID {
		b = appendString(b, 10, id)
	}
	b = appendBool(b, 12, r.AdaptiveHeartbeat)
	b = appendBool(b, 14, r.UseRmq2)
	b = appendVarint(b, 16, uint64(r.AuthService))
	b = appendVarint(b, 17, uint64(r.NetworkType))
	return b
}

func (r *loginRequest) unmarshal(b []byte) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			r.ID = f.str()
		case 2:
			r.Domain = f.str()
		case 3:
			r.User = f.str()
		case 4:
			r.Resource = f.str()
		case 5:
			r.AuthToken = f.str()
		case 6:
			r.DeviceID = f.str()
		case 7:
			r.LastRmqID = int64(f.val)
		case 8:
			var name, value string
			err := eachField(f.raw, func(f field) error {
				switch f.num {
				case 1:
					name = f.str()
				case 2:
					value = f.str()
				}
				return nil
			})
			if err != nil {
				return err
			}
			if r.Settings == nil {
				r.Settings = map[string]string{}
			}
			r.Settings[name] = value
		case 10:
			r.ReceivedPersistentID = append(r.ReceivedPersistentID, f.str())
		case 12:
			r.AdaptiveHeartbeat = f.val != 0
		case 14:
			r.UseRmq2 = f.val != 0
		case 16:
			r.AuthService = int32(f.val)
		case 17:
			r.NetworkType = int32(f.val)
		}
		return nil
	})
}

// loginResponse is mcs.proto LoginResponse.
type loginResponse struct {
	ID           string // 1
	ErrorCode    int32  // 3.1
	ErrorMessage string // 3.2
}

func (r *loginResponse) marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.ID)
	if r.ErrorCode != 0 || r.ErrorMessage != "" {
		var e []byte
		e = appendVarint(e, 1, uint64(r.ErrorCode))
		e = appendString(e, 2, r.ErrorMessage)
		b = appendBytes(b, 3, e)
	}
	return b
}

func (r *loginResponse) unmarshal(b []byte) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			r.ID = f.str()
		case 3:
			return eachField(f.raw, func(f field) error {
				switch f.num {
				case 1:
					r.ErrorCode = int32(f.val)
				case 2:
					r.ErrorMessage = f.str()
				}
				return nil
			})
		}
		return nil
	})
}

// heartbeat is both HeartbeatPing and HeartbeatAck; they share a layout.
type heartbeat struct {
	StreamID             int32 // 1
	LastStreamIDReceived int32 // 2
}

func (h *heartbeat) marshal() []byte {
	var b []byte
	if h.StreamID != 0 {
		b = appendVarint(b, 1, uint64(h.StreamID))
	}
	if h.LastStreamIDReceived != 0 {
		b = appendVarint(b, 2, uint64(h.LastStreamIDReceived))
	}
	return b
}

func (h *heartbeat) unmarshal(b []byte) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			h.StreamID = int32(f.val)
		case 2:
			h.LastStreamIDReceived = int32(f.val)
		}
		return nil
	})
}

// appData is one key/value pair of a data message.
type appData struct {
	Key   string
	Value string
}

// dataMessage is mcs.proto DataMessageStanza.
type dataMessage struct {
	ID           string // 2
	From         string // 3
	To           string // 4
	Category     string // 5
	AppData      []appData
	PersistentID string // 9
	RawData      []byte // 21
}

func (m *dataMessage) marshal() []byte {
	var b []byte
	if m.ID != "" {
		b = appendString(b, 2, m.ID)
	}
	b = appendString(b, 3, m.From)
	if m.To != "" {
		b = appendString(b, 4, m.To)
	}
	b = appendString(b, 5, m.Category)
	for _, kv := range m.AppData {
		var d []byte
		d = appendString(d, 1, kv.Key)
		d = appendString(d, 2, kv.Value)
		b = appendBytes(b, 7, d)
	}
	if m.PersistentID != "" {
		b = appendString(b, 9, m.PersistentID)
	}
	if len(m.RawData) > 0 {
		b = appendBytes(b, 21, m.RawData)
	}
	return b
}

func (m *dataMessage) unmarshal(b []byte) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 2:
			m.ID = f.str()
		case 3:
			m.From = f.str()
		case 4:
			m.To = f.str()
		case 5:
			m.Category = f.str()
		case 7:
			var kv appData
			err := eachField(f.raw, func(f field) error {
				switch f.num {
				case 1:
					kv.Key = f.str()
				case 2:
					kv.Value = f.str()
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.AppData = append(m.AppData, kv)
		case 9:
			m.PersistentID = f.str()
		case 21:
			m.RawData = append([]byte(nil), f.raw...)
		}
		return nil
	})
}

// streamError is mcs.proto StreamErrorStanza.
type streamError struct {
	Type string // 1
	Text string // 2
}

func (e *streamError) marshal() []byte {
	var b []byte
	b = appendString(b, 1, e.Type)
	if e.Text != "" {
		b = appendString(b, 2, e.Text)
	}
	return b
}

func (e *streamError) unmarshal(b []byte) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 1:
			e.Type = f.str()
		case 2:
			e.Text = f.str()
		}
		return nil
	})
}

// iqStanza is the subset of mcs.proto IqStanza that gets logged.
type iqStanza struct {
	Type int32  // 2
	ID   string // 3
	From string // 4
	To   string // 5
}

func (q *iqStanza) unmarshal(b []byte) error {
	return eachField(b, func(f field) error {
		switch f.num {
		case 2:
			q.Type = int32(f.val)
		case 3:
			q.ID = f.str()
		case 4:
			q.From = f.str()
		case 5:
			q.To = f.str()
		}
		return nil
	})
}

func unmarshalError(name string, err error) error {
	return fmt.Errorf("unmarshal %s: %w", name, err)
}
